package httpmiddleware

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// Origins are the allowed origins. A pattern containing "://" is matched
	// against the whole origin, any other pattern against its host only, both
	// with path.Match syntax ("shop.example.com", "*.example.com"). An empty
	// list or "*" allows every origin.
	Origins []string
	// Methods defaults to GET, POST, PUT, PATCH, DELETE.
	Methods []string
	// Headers lists allowed request headers. When empty the preflight's
	// Access-Control-Request-Headers is echoed.
	Headers []string
	// Expose lists response headers readable by scripts.
	Expose []string
	// Credentials lets the browser send the session cookie. The origin is
	// then always echoed instead of "*".
	Credentials bool
	// MaxAge is how long a preflight result may be cached. Zero omits the
	// header.
	MaxAge time.Duration
}

type corsPolicy struct {
	anyOrigin   bool
	patterns    []string
	credentials bool
	methods     string
	headers     string
	expose      string
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		anyOrigin:   len(cfg.Origins) == 0,
		credentials: cfg.Credentials,
		methods:     strings.Join(cfg.Methods, ", "),
		headers:     strings.Join(cfg.Headers, ", "),
		expose:      strings.Join(cfg.Expose, ", "),
	}
	for _, o := range cfg.Origins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.patterns = append(p.patterns, strings.ToLower(o))
	}
	if p.methods == "" {
		p.methods = "GET, POST, PUT, PATCH, DELETE"
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(int(cfg.MaxAge.Seconds()))
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin {
		if p.credentials {
			return origin
		}
		return "*"
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	full := strings.ToLower(origin)
	host := strings.ToLower(u.Host)
	for _, pattern := range p.patterns {
		target := host
		if strings.Contains(pattern, "://") {
			target = full
		}
		if ok, _ := path.Match(pattern, target); ok {
			return origin
		}
	}
	return ""
}

// varies reports whether responses differ per origin.
func (p *corsPolicy) varies() bool { return !p.anyOrigin || p.credentials }

// CORS answers preflight requests and decorates cross-origin responses.
// Preflights from disallowed origins get 204 with no CORS headers, so the
// browser blocks the actual request.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if p.varies() {
				h.Add("Vary", "Origin")
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow := p.allowOrigin(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allow != "" {
					h.Set("Access-Control-Allow-Origin", allow)
					h.Set("Access-Control-Allow-Methods", p.methods)
					switch {
					case p.headers != "":
						h.Set("Access-Control-Allow-Headers", p.headers)
					case r.Header.Get("Access-Control-Request-Headers") != "":
						h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
					}
					if p.credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allow != "" {
				h.Set("Access-Control-Allow-Origin", allow)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if p.expose != "" {
					h.Set("Access-Control-Expose-Headers", p.expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
