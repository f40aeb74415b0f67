// tokendebug mints or inspects a pairing token outside the running
// supervisor, for bench testing the bridge/companion-app flow without
// a live kiosk session.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/biokiosk/supervisor/internal/tokens"
)

func main() {
	key := flag.String("key", os.Getenv("BRIDGE_SIGNING_KEY"), "HMAC signing key")
	sessionID := flag.String("session", "", "session_id to embed")
	platformID := flag.String("platform", "", "platform_id to embed")
	ttl := flag.Duration("ttl", 5*time.Minute, "token lifetime")
	inspect := flag.String("inspect", "", "an existing token to decode instead of minting one")
	flag.Parse()

	if *key == "" {
		fmt.Fprintln(os.Stderr, "tokendebug: -key (or BRIDGE_SIGNING_KEY) is required")
		os.Exit(1)
	}
	mgr := tokens.NewManager(*key)

	if *inspect != "" {
		claims, err := mgr.ValidateToken(*inspect)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tokendebug: invalid token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("session_id=%s platform_id=%s expires_at=%s\n",
			claims.SessionID, claims.PlatformID, claims.ExpiresAt.Time.Format(time.RFC3339))
		return
	}

	if *sessionID == "" || *platformID == "" {
		fmt.Fprintln(os.Stderr, "tokendebug: -session and -platform are required to mint a token")
		os.Exit(1)
	}

	token, err := mgr.GeneratePairingToken(*sessionID, *platformID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokendebug: mint failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
