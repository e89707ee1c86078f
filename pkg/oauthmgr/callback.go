package oauthmgr

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// callbackListener is a single-request HTTP server bound to an ephemeral
// loopback port, matching the server-with-explicit-timeouts shape used
// elsewhere in this codebase for long-running listeners, shrunk to one
// request.
type callbackListener struct {
	ln     net.Listener
	server *http.Server
	port   int
}

type callbackResult struct {
	code  string
	state string
	err   string // OAuth "error" param, e.g. "access_denied"
}

const (
	callbackReadTimeout  = 10 * time.Second
	callbackWriteTimeout = 10 * time.Second
)

func newCallbackListener() (*callbackListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return &callbackListener{ln: ln, port: port}, nil
}

func (c *callbackListener) redirectURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", c.port)
}

const successPage = `<!DOCTYPE html><html><body><h3>Authentication complete</h3><p>You may close this window.</p></body></html>`

func errorPage(desc string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><body><h3>Authentication failed</h3><p>%s</p></body></html>`, desc)
}

// serveOnce starts serving a single /callback request in the background,
// sends the parsed result on resultCh, then shuts itself down.
func (c *callbackListener) serveOnce(resultCh chan<- callbackResult) {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result := callbackResult{
			code:  q.Get("code"),
			state: q.Get("state"),
			err:   q.Get("error_description"),
		}
		if result.err == "" {
			result.err = q.Get("error")
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if result.err != "" {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, errorPage(sanitizeErrorDescription(result.err)))
		} else {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, successPage)
		}

		select {
		case resultCh <- result:
		default:
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			c.server.Shutdown(ctx)
		}()
	})

	c.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  callbackReadTimeout,
		WriteTimeout: callbackWriteTimeout,
	}
	go c.server.Serve(c.ln)
}

func (c *callbackListener) close() {
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.server.Shutdown(ctx)
	}
}

// sanitizeErrorDescription strips characters that would let the provider's
// error_description break out of the inline HTML error page.
func sanitizeErrorDescription(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '<', '>', '&', '"', '\'':
			continue
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
