package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/geppetto-io/geppetto/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "contexts":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: geppettoctl contexts <list|show>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdContextsList()
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: geppettoctl contexts show <id>")
				os.Exit(1)
			}
			cmdContextsShow(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown contexts subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "audit":
		cmdAudit(os.Args[2:])
	case "send":
		cmdSend(os.Args[2:])
	case "provider":
		cmdProvider(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: geppettoctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdContextsList() {
	body, err := apiGet("/api/contexts")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var contexts []map[string]any
	json.Unmarshal(body, &contexts)
	for _, c := range contexts {
		ticket := "-"
		if id, ok := c["ticket_id"].(float64); ok && id != 0 {
			ticket = fmt.Sprintf("#%d", int64(id))
		}
		fmt.Printf("%-36s %-15s %-8s %s/%s\n",
			c["conversation_id"], c["state"], ticket, c["channel_id"], c["user_id"])
	}
}

func cmdContextsShow(id string) {
	body, err := apiGet("/api/contexts/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	eventType := fs.String("type", "", "Filter by event type (e.g. ticket_created)")
	conversation := fs.String("conversation", "", "Filter by conversation ID")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *eventType != "" {
		query += "&type=" + *eventType
	}
	if *conversation != "" {
		query += "&conversation=" + *conversation
	}

	body, err := apiGet("/api/audit" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var events []map[string]any
	json.Unmarshal(body, &events)
	for _, e := range events {
		fmt.Printf("%-25s %-18s %-16s %s\n",
			e["timestamp"], e["event_type"], e["action_taken"], e["conversation_id"])
	}
}

func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	user := fs.String("user", "cli", "User ID for the message")
	channel := fs.String("channel", "cli", "Channel ID for the message")
	conversation := fs.String("conversation", "", "Existing conversation ID")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: geppettoctl send [flags] <message>")
		os.Exit(1)
	}

	payload, _ := json.Marshal(map[string]string{
		"user_id":         *user,
		"channel_id":      *channel,
		"conversation_id": *conversation,
		"content":         fs.Arg(0),
	})
	body, err := apiPost("/api/messages", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdProvider(args []string) {
	if len(args) == 0 {
		body, err := apiGet("/api/provider")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(prettyJSON(body))
		return
	}

	payload, _ := json.Marshal(map[string]string{"name": args[0]})
	body, err := apiPost("/api/provider", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo("GET", path, nil)
}

func apiPost(path string, payload []byte) ([]byte, error) {
	return apiDo("POST", path, payload)
}

func apiDo(method, path string, payload []byte) ([]byte, error) {
	base := envOr("GEPPETTO_API_URL", "http://localhost:8080")

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("GEPPETTO_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("geppettoctl — support engine management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                 Check daemon health")
	fmt.Println("  contexts list          List conversation contexts")
	fmt.Println("  contexts show <id>     Show context details")
	fmt.Println("  audit                  List audit events (--type, --conversation, --limit)")
	fmt.Println("  send [flags] <msg>     Run a message through the engine (--user, --channel, --conversation)")
	fmt.Println("  provider [name]        Show or switch the active model backend")
	fmt.Println("  config validate <p>    Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  GEPPETTO_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  GEPPETTO_API_KEY   API key for authentication")
}
