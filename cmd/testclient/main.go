// testclient is a minimal local server for trying the login flow end-to-end.
// It catches the post-login redirect from sentinel and prints the session token.
//
// Usage:
//
//	go run ./cmd/testclient
//	open "http://localhost:8080/api/auth/google/login?redirect_url=http://localhost:9999/done"
package main

import (
	"fmt"
	"html"
	"log"
	"net/http"
)

func main() {
	http.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "missing token")
			log.Println("login redirect received but token was empty")
			return
		}

		log.Printf("login complete, token: %s", token)

		w.Header().Set("Content-Type", "text/html")
		escaped := html.EscapeString(token)
		fmt.Fprintf(w, `<html><body>
<h2>Login complete</h2>
<p><strong>token:</strong> <code>%s</code></p>
<p>Fetch your profile:</p>
<pre>curl http://localhost:8080/api/auth/me \
  -H "Authorization: Bearer %s" | jq .</pre>
</body></html>`, escaped, escaped)
	})

	addr := ":9999"
	log.Printf("testclient listening on %s, waiting for login redirect...", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
