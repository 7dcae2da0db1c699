package middleware

import (
	"net/http"
)

// MaxBodySize caps request bodies. The largest legitimate payload is a wallet
// import carrying a recovery phrase, well under a kilobyte; 64KB leaves room
// without letting a client stream unbounded JSON at the decoder.
const MaxBodySize = 64 << 10

// LimitBody rejects request bodies larger than MaxBodySize
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		next.ServeHTTP(w, r)
	})
}
