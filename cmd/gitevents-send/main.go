// gitevents-send posts a signed GitHub webhook payload to a gitevents
// receiver. It is meant for local testing against the fixtures in
// testdata/events.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gitevents/internal/providers/shared"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const appName = "gitevents-send"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func main() {
	url := pflag.String("url", "http://localhost:5000/webhook", "webhook endpoint of the receiver")
	event := pflag.StringP("event", "e", "push", "value of the X-GitHub-Event header")
	delivery := pflag.String("delivery", "", "value of the X-GitHub-Delivery header, random when empty")
	secret := pflag.String("secret", "", "signing secret, defaults to $GITEVENTS_WEBHOOK_SECRET")
	timeout := pflag.Duration("timeout", 10*time.Second, "request timeout")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION] FILE\nSign FILE with HMAC-SHA256 and POST it as a GitHub webhook delivery.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	body, err := os.ReadFile(pflag.Arg(0))
	exitOnErr("could not read payload file", err)

	key := *secret
	if key == "" {
		key = os.Getenv("GITEVENTS_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(key) == "" {
		exitOnErr("missing secret", fmt.Errorf("set --secret or GITEVENTS_WEBHOOK_SECRET"))
	}

	id := *delivery
	if id == "" {
		id = uuid.NewString()
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	exitOnErr("could not build request", err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", appName)
	req.Header.Set("X-GitHub-Event", *event)
	req.Header.Set("X-GitHub-Delivery", id)
	req.Header.Set("X-Hub-Signature-256", shared.Sign([]byte(key), body))

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(req)
	exitOnErr("request failed", err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	exitOnErr("could not read response", err)

	fmt.Printf("%s %s\n", resp.Status, strings.TrimSpace(string(respBody)))
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}
