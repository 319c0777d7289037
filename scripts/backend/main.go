// Backend is a simple test HTTP server used for load balancer testing.
// It answers every GET with a JSON payload identifying the server and
// provides the /health endpoint the balancer probes.
//
// Usage:
//
//	go run ./scripts/backend -port 5001 -id server-1
//	go run ./scripts/backend -port 5002 -id server-2 -delay 200ms
//
// The optional -delay flag simulates a slow backend, which is handy for
// exercising the least-response-time strategy.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

// newUUID generates a random v4 UUID per RFC 4122.
func newUUID() string {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return ""
	}
	// set version (4) and variant bits per RFC 4122
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	// format as hex groups
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hex.EncodeToString(b[0:4]),
		hex.EncodeToString(b[4:6]),
		hex.EncodeToString(b[6:8]),
		hex.EncodeToString(b[8:10]),
		hex.EncodeToString(b[10:16]),
	)
}

func main() {
	port := flag.Int("port", 5001, "port to listen on")
	id := flag.String("id", "server-1", "server identity echoed in responses")
	delay := flag.Duration("delay", 0, "artificial processing delay per request")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *delay > 0 {
			time.Sleep(*delay)
		}

		// log request for visibility when running multiple backends
		log.Printf("request: method=%s path=%s from=%s forwarded=%s",
			r.Method, r.URL.Path, r.RemoteAddr, r.Header.Get("X-Forwarded-For"))

		resp := map[string]any{
			"server":     *id,
			"path":       r.URL.Path,
			"request_id": newUUID(),
		}
		b, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})

	// simple health endpoint used by the load balancer health supervisor
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend %s on %s", *id, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
