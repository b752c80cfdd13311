// Command cart-import loads carts exported from browser local storage into
// the gateway's cart store.
//
// Each export is a gzip-compressed NDJSON file named carts*.ndjson.gz with
// one {"sessionId": "...", "cart": [...]} object per line. A session found
// in several exports has its carts merged in file name order.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-gateway/internal/domain/cart"
	"github.com/xenking/storefront-gateway/internal/domain/product"
	"github.com/xenking/storefront-gateway/internal/storage/postgres"
	"github.com/xenking/storefront-gateway/internal/storage/redisstore"
)

const (
	filePattern   = "carts*.ndjson.gz"
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineBytes  = 1 << 20
)

// record is one exported cart.
type record struct {
	SessionID string      `json:"sessionId"`
	Cart      []cart.Line `json:"cart"`
}

// stats counts import outcomes across all files.
type stats struct {
	imported      atomic.Int64
	invalid       atomic.Int64
	rejectedLines atomic.Int64
	merged        atomic.Int64
}

// fileCart is a cart held back for merging, tagged with its source file.
type fileCart struct {
	file int
	cart *cart.Cart
}

type options struct {
	dataDir     string
	storage     string
	databaseURL string
	redisURL    string
	cartTTL     time.Duration
	expected    uint
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing "+filePattern+" files")
	flag.StringVar(&opts.storage, "storage", "postgres", "cart storage: postgres or redis")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL (or REDIS_URL env)")
	flag.DurationVar(&opts.cartTTL, "cart-ttl", redisstore.DefaultTTL, "lifetime of imported carts in redis")
	flag.UintVar(&opts.expected, "expected-sessions", 1_000_000, "expected sessions per file, sizes the bloom filters")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisURL == "" {
		opts.redisURL = os.Getenv("REDIS_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("cart import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("cart import completed successfully")
}

func run(ctx context.Context, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, filePattern))
	if err != nil {
		return errors.Wrap(err, "list export files")
	}
	if len(files) == 0 {
		return errors.Errorf("no %s files in %s", filePattern, opts.dataDir)
	}
	slices.Sort(files)

	repo, closeRepo, err := openRepository(ctx, opts)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Pass 1: Build one session id filter per file concurrently.
	slog.Info("pass 1: building session filters", slog.Int("files", len(files)))

	filters, err := buildFilters(ctx, files, opts.expected)
	if err != nil {
		return errors.Wrap(err, "build session filters")
	}

	// Pass 2: Save carts whose session appears in no other file; hold back
	// the rest for merging.
	slog.Info("pass 2: importing carts")

	var st stats
	held, err := importFiles(ctx, repo, files, filters, &st)
	if err != nil {
		return errors.Wrap(err, "import carts")
	}

	slog.Info("merging carts found in several files", slog.Int("sessions", len(held)))
	if err := saveMerged(ctx, repo, held, &st); err != nil {
		return errors.Wrap(err, "save merged carts")
	}

	slog.Info("import summary",
		slog.Int64("imported", st.imported.Load()),
		slog.Int64("merged", st.merged.Load()),
		slog.Int64("invalid_records", st.invalid.Load()),
		slog.Int64("rejected_lines", st.rejectedLines.Load()),
	)
	return nil
}

func openRepository(ctx context.Context, opts options) (cart.Repository, func(), error) {
	switch opts.storage {
	case "postgres":
		if opts.databaseURL == "" {
			return nil, nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to database")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewCartRepository(pool), pool.Close, nil
	case "redis":
		if opts.redisURL == "" {
			return nil, nil, errors.New("redis URL is required: set --redis-url or REDIS_URL")
		}
		client, err := redisstore.Open(ctx, opts.redisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to redis")
		}
		return redisstore.NewCartStore(client, opts.cartTTL), func() { _ = client.Close() }, nil
	default:
		return nil, nil, errors.Errorf("unknown storage %q", opts.storage)
	}
}

// buildFilters creates one bloom filter of session ids per file.
func buildFilters(ctx context.Context, files []string, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, bloomFPR)
			var count int
			if err := streamFile(ctx, f, func(rec record) {
				filter.AddString(rec.SessionID)
				count++
			}, nil); err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}
			slog.Info("pass 1 complete", slog.String("file", f), slog.Int("sessions", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// importFiles saves the carts of every file concurrently. Carts whose
// session may appear in another file are returned instead, keyed by session.
func importFiles(
	ctx context.Context,
	repo cart.Repository,
	files []string,
	filters []*bloom.BloomFilter,
	st *stats,
) (map[string][]fileCart, error) {
	var (
		mu   sync.Mutex
		held = make(map[string][]fileCart)
	)

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			var (
				saveErr error
				count   int
			)
			err := streamFile(ctx, f, func(rec record) {
				if saveErr != nil {
					return
				}
				c, rejected := normalize(rec.Cart)
				st.rejectedLines.Add(int64(rejected))

				if seenElsewhere(filters, i, rec.SessionID) {
					mu.Lock()
					held[rec.SessionID] = append(held[rec.SessionID], fileCart{file: i, cart: c})
					mu.Unlock()
					return
				}
				if err := repo.Save(ctx, rec.SessionID, c); err != nil {
					saveErr = errors.Wrapf(err, "save cart %s", rec.SessionID)
					return
				}
				st.imported.Add(1)

				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", f), slog.Int("carts", count))
				}
			}, func() { st.invalid.Add(1) })
			if err != nil {
				return errors.Wrapf(err, "import %s", f)
			}
			if saveErr != nil {
				return saveErr
			}
			slog.Info("pass 2 complete", slog.String("file", f), slog.Int("carts", count))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return held, nil
}

func seenElsewhere(filters []*bloom.BloomFilter, self int, sessionID string) bool {
	for j, f := range filters {
		if j != self && f.TestString(sessionID) {
			return true
		}
	}
	return false
}

// saveMerged merges held carts in file order and saves them. A session held
// back by a bloom false positive has a single cart and is saved as is.
func saveMerged(ctx context.Context, repo cart.Repository, held map[string][]fileCart, st *stats) error {
	for sid, parts := range held {
		if err := ctx.Err(); err != nil {
			return err
		}
		slices.SortStableFunc(parts, func(a, b fileCart) int { return a.file - b.file })

		merged := parts[0].cart
		for _, p := range parts[1:] {
			st.rejectedLines.Add(int64(mergeInto(merged, p.cart)))
		}
		if err := repo.Save(ctx, sid, merged); err != nil {
			return errors.Wrapf(err, "save cart %s", sid)
		}
		st.imported.Add(1)
		if len(parts) > 1 {
			st.merged.Add(1)
		}
	}
	return nil
}

// normalize rebuilds an exported cart through the cart invariants and
// returns the number of lines that had to be dropped.
func normalize(lines []cart.Line) (*cart.Cart, int) {
	c := &cart.Cart{}
	return c, mergeInto(c, &cart.Cart{Lines: lines})
}

// mergeInto adds the lines of src to dst. Lines that would break a cart
// invariant are dropped and counted.
func mergeInto(dst, src *cart.Cart) int {
	var rejected int
	for _, l := range src.Lines {
		p := product.Product{
			ID:    l.ProductID,
			Name:  l.Name,
			Price: l.UnitPrice,
			Stock: l.Stock,
		}
		if l.Image != "" {
			p.Images = []string{l.Image}
		}
		if l.ProductID == "" || l.UnitPrice.IsNegative() {
			rejected++
			continue
		}
		if err := dst.AddLine(p, l.Quantity, l.Color, l.Size); err != nil {
			rejected++
		}
	}
	return rejected
}

// streamFile opens a gzip-compressed NDJSON export and calls fn for each
// record. Lines that do not decode to a record with a session id are
// reported to invalid when it is set.
func streamFile(ctx context.Context, path string, fn func(rec record), invalid func()) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil || rec.SessionID == "" {
			if invalid != nil {
				invalid()
			}
			continue
		}
		fn(rec)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
