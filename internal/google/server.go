package google

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
)

var authPage = template.Must(template.New("auth").Parse(
	`<html><head><title>Authorize {{.Service}}</title></head><body>` +
		`{{if .Authorized}}<p>{{.Service}} is already authorized. You can close this tab.</p>` +
		`{{else}}<a href="{{.URL}}" target="_blank">Authorize</a>. Close this after you have finished.{{end}}` +
		`</body></html>`))

const (
	successMessage = "Success! You can close this tab."
	deniedMessage  = "Denied. You can close this tab"
)

// AuthServer serves the authorization link and the OAuth callback for one
// session on the host of its redirect URL.
type AuthServer struct {
	session      *Session
	callbackPath string
	addr         string
	results      chan bool
	logger       *log.Logger
	openBrowser  func(string)
}

func NewAuthServer(session *Session, logger *log.Logger) (*AuthServer, error) {
	u, err := url.Parse(session.RedirectURL())
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL %q: %w", session.RedirectURL(), err)
	}
	port := u.Port()
	if port == "" {
		port = "8080"
	}
	path := u.Path
	if path == "" {
		path = "/callback"
	}
	if logger == nil {
		logger = log.Default()
	}

	return &AuthServer{
		session:      session,
		callbackPath: path,
		addr:         net.JoinHostPort(u.Hostname(), port),
		results:      make(chan bool, 1),
		logger:       logger,
		openBrowser:  openBrowser,
	}, nil
}

// Handler routes the authorization page and the callback.
func (a *AuthServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", a.handleIndex)
	r.Get(a.callbackPath, a.handleCallback)
	return r
}

func (a *AuthServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	authorized, err := a.session.HasValidAccessToken(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := struct {
		Service    string
		Authorized bool
		URL        string
	}{Service: a.session.Service(), Authorized: authorized}

	if !authorized {
		data.URL, err = a.session.AuthorizationURL()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := authPage.Execute(w, data); err != nil {
		a.logger.Printf("render authorization page: %v", err)
	}
}

func (a *AuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	ok, err := a.session.CompleteAuthorization(r.Context(), CallbackFromQuery(r.URL.Query()))
	if err != nil {
		a.logger.Printf("complete %s authorization: %v", a.session.Service(), err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if ok {
		fmt.Fprint(w, successMessage)
	} else {
		fmt.Fprint(w, deniedMessage)
	}

	select {
	case a.results <- ok:
	default:
	}
}

// Run listens until the first callback arrives or ctx is done, and reports
// whether authorization succeeded.
func (a *AuthServer) Run(ctx context.Context) (bool, error) {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return false, fmt.Errorf("unable to listen on %s: %w", a.addr, err)
	}

	server := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("Server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	page := "http://" + ln.Addr().String() + "/"
	a.logger.Printf("Opening browser for %s authorization...", a.session.Service())
	a.logger.Printf("If browser doesn't open automatically, visit: %s", page)
	a.openBrowser(page)

	select {
	case ok := <-a.results:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func openBrowser(url string) {
	var err error

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}
