package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/agentbridge-io/agentbridge/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "escalations":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl escalations <list|show|create|ack|resolve>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdEscalationsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: bridgectl escalations show <id>")
				os.Exit(1)
			}
			cmdEscalationsShow(os.Args[3])
		case "create":
			cmdEscalationsCreate(os.Args[3:])
		case "ack":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: bridgectl escalations ack <id>")
				os.Exit(1)
			}
			cmdEscalationsAck(os.Args[3])
		case "resolve":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: bridgectl escalations resolve <id> [--answer text]")
				os.Exit(1)
			}
			cmdEscalationsResolve(os.Args[3], os.Args[4:])
		default:
			fmt.Fprintf(os.Stderr, "unknown escalations subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: bridgectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdEscalationsList(args []string) {
	fs := flag.NewFlagSet("escalations list", flag.ExitOnError)
	to := fs.String("to", "", "Filter by target agent")
	from := fs.String("from", "", "Filter by requesting agent")
	status := fs.String("status", "pending", "Filter by status (pending|acknowledged|resolved|all)")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	q := url.Values{}
	q.Set("status", *status)
	q.Set("limit", fmt.Sprint(*limit))
	if *to != "" {
		q.Set("to", *to)
	}
	if *from != "" {
		q.Set("from", *from)
	}

	body, err := apiGet("/v1/escalations?" + q.Encode())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var resp struct {
		Escalations []map[string]any `json:"escalations"`
		Count       int              `json:"count"`
	}
	json.Unmarshal(body, &resp)
	for _, e := range resp.Escalations {
		status, _ := e["status"].(string)
		fmt.Printf("%-38v %-14s %-12v -> %-12v %v\n",
			e["id"], colorStatus(status), e["from_agent"], e["to_agent"], e["question"])
	}
	fmt.Printf("%d escalation(s)\n", resp.Count)
}

func cmdEscalationsShow(id string) {
	body, err := apiGet("/v1/escalations/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdEscalationsCreate(args []string) {
	fs := flag.NewFlagSet("escalations create", flag.ExitOnError)
	from := fs.String("from", "", "Requesting agent id")
	to := fs.String("to", "any", "Target agent id (or \"any\" to broadcast)")
	question := fs.String("question", "", "The question to escalate")
	context := fs.String("context", "", "Optional context")
	priority := fs.String("priority", "", "Priority (low|normal|high)")
	fs.Parse(args)

	if *from == "" || *question == "" {
		fmt.Fprintln(os.Stderr, "error: --from and --question are required")
		os.Exit(1)
	}

	req := map[string]string{
		"from_agent": *from,
		"to_agent":   *to,
		"question":   *question,
	}
	if *context != "" {
		req["context"] = *context
	}
	if *priority != "" {
		req["priority"] = *priority
	}

	body, err := apiSend("POST", "/v1/escalations", req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdEscalationsAck(id string) {
	body, err := apiSend("PATCH", "/v1/escalations/"+id, map[string]string{"status": "acknowledged"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdEscalationsResolve(id string, args []string) {
	fs := flag.NewFlagSet("escalations resolve", flag.ExitOnError)
	answer := fs.String("answer", "", "Answer to record")
	fs.Parse(args)

	req := map[string]string{"status": "resolved"}
	if *answer != "" {
		req["answer"] = *answer
	}

	body, err := apiSend("PATCH", "/v1/escalations/"+id, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
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

func colorStatus(status string) string {
	switch status {
	case "pending":
		return color.YellowString(status)
	case "acknowledged":
		return color.CyanString(status)
	case "resolved":
		return color.GreenString(status)
	default:
		return status
	}
}

func apiGet(path string) ([]byte, error) {
	return apiSend("GET", path, nil)
}

func apiSend(method, path string, payload any) ([]byte, error) {
	base := envOr("BRIDGE_API_URL", "http://localhost:8080")

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("BRIDGE_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
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
	fmt.Println("bridgectl — agent bridge management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                          Check daemon and upstream health")
	fmt.Println("  escalations list                List escalations (--to, --from, --status, --limit)")
	fmt.Println("  escalations show <id>           Show escalation details")
	fmt.Println("  escalations create              Create an escalation (--from, --to, --question, ...)")
	fmt.Println("  escalations ack <id>            Mark an escalation acknowledged")
	fmt.Println("  escalations resolve <id>        Mark an escalation resolved (--answer)")
	fmt.Println("  config validate <path>          Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  BRIDGE_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  BRIDGE_API_KEY   API key for authentication")
}
