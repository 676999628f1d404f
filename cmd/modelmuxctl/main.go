package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

var version = "dev"

// loadEnvFile reads ~/.modelmux/env (written by make start) and sets any
// key=value pairs not already present in the process environment. This lets
// modelmuxctl work out of the box without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.modelmux/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("modelmuxctl %s\n", version)
	case "status", "health":
		doStatus()
	case "stats":
		doStats()
	case "provider", "providers":
		doProviders()
	case "apikey", "apikeys":
		doAPIKeys(args)
	case "logs":
		doLogs(args)
	case "budget":
		doBudget(args)
	case "cache-clear":
		doCacheClear()
	case "complete":
		doComplete(args)
	case "events":
		doEvents()
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `modelmuxctl: CLI for the modelmux gateway

Usage: modelmuxctl <command> [arguments]

Environment:
  MODELMUX_URL          Base URL (default: http://localhost:8080)
  MODELMUX_ADMIN_TOKEN  Bearer token for admin endpoints
  MODELMUX_API_KEY      Bearer API key for /v1 endpoints

  ~/.modelmux/env       Auto-sourced on startup; written by make start.
                        Explicit environment variables take precedence.

Commands:
  status                      Show gateway health and provider fleet
  stats                       Show rolling aggregates and cache effectiveness
  providers                   List providers with breaker state and metrics

  apikey list                 List API keys
  apikey create <name>        Create a new API key (prints the plaintext once)
  apikey rotate <id>          Rotate an API key
  apikey disable <id>         Disable an API key

  logs [--limit N]            Show recent request logs
  budget <user> [team] [co]   Show budget usage for an identity's scopes
  cache-clear                 Clear all cache tiers

  complete <prompt>           Route a completion through the gateway
  events                      Stream real-time SSE events

  version                     Show version
  help                        Show this help

Examples:
  modelmuxctl status
  modelmuxctl apikey create ci-pipeline
  modelmuxctl budget alice platform acme
  modelmuxctl complete "What is the capital of France?"
  modelmuxctl events
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("MODELMUX_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Admin endpoints take the admin token; everything else takes the API key.
	if strings.HasPrefix(path, "/admin/") {
		if tok := os.Getenv("MODELMUX_ADMIN_TOKEN"); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	} else if key := os.Getenv("MODELMUX_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) map[string]any {
	resp, err := doRequest("DELETE", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		var arr []any
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			return map[string]any{"items": arr}
		}
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: modelmuxctl %s\n", usage)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

// --- Commands ---

func doStatus() {
	resp, err := doRequest("GET", "/health", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	var h map[string]any
	_ = json.Unmarshal(data, &h)

	status := "unknown"
	if s, ok := h["status"].(string); ok {
		status = s
	}
	providers := 0
	if n, ok := h["providers"].(float64); ok {
		providers = int(n)
	}
	fmt.Printf("Status:    %s\n", status)
	fmt.Printf("Providers: %d\n", providers)

	if checks, ok := h["checks"].([]any); ok && len(checks) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nCHECK\tHEALTHY\tLATENCY\tERROR")
		for _, c := range checks {
			m, _ := c.(map[string]any)
			fmt.Fprintf(w, "%v\t%v\t%.1fms\t%v\n",
				m["name"], m["healthy"], num(m["latency_ms"]), orDash(m["error"]))
		}
		_ = w.Flush()
	}
}

func doStats() {
	result := doGet("/v1/stats")
	fmt.Println(prettyJSON(result))
}

func doProviders() {
	result := doGet("/v1/providers")
	providers, _ := result["providers"].([]any)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENABLED\tBREAKER\tREQUESTS\tSUCCESS\tAVG COST")
	for _, p := range providers {
		m, _ := p.(map[string]any)
		metrics, _ := m["metrics"].(map[string]any)
		fmt.Fprintf(w, "%v\t%v\t%v\t%.0f\t%.1f%%\t$%.6f\n",
			m["id"], m["enabled"], m["breaker_state"],
			num(metrics["total_requests"]),
			num(metrics["success_rate"])*100,
			num(metrics["avg_cost_usd"]))
	}
	_ = w.Flush()
}

func doAPIKeys(args []string) {
	requireArgs(args, 1, "apikey <list|create|rotate|disable> ...")
	switch args[0] {
	case "list":
		result := doGet("/admin/v1/apikeys")
		keys, _ := result["keys"].([]any)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPREFIX\tENABLED\tCREATED\tLAST USED")
		for _, k := range keys {
			m, _ := k.(map[string]any)
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
				m["id"], m["name"], m["key_prefix"], m["enabled"],
				m["created_at"], orDash(m["last_used_at"]))
		}
		_ = w.Flush()
	case "create":
		requireArgs(args, 2, "apikey create <name>")
		result := doPost("/admin/v1/apikeys", `{"name":"`+args[1]+`"}`)
		fmt.Println("API key created. Store it now; it is not shown again.")
		fmt.Println(result["key"])
	case "rotate":
		requireArgs(args, 2, "apikey rotate <id>")
		result := doPost("/admin/v1/apikeys/"+args[1]+"/rotate", "{}")
		fmt.Println("API key rotated. Store it now; it is not shown again.")
		fmt.Println(result["key"])
	case "disable":
		requireArgs(args, 2, "apikey disable <id>")
		doDelete("/admin/v1/apikeys/" + args[1])
		fmt.Println("API key disabled.")
	default:
		requireArgs(nil, 1, "apikey <list|create|rotate|disable> ...")
	}
}

func doLogs(args []string) {
	limit := parseLimit(args)
	result := doGet(fmt.Sprintf("/admin/v1/logs?limit=%d", limit))
	logs, _ := result["logs"].([]any)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tUSER\tPROVIDER\tMODEL\tCOST\tLATENCY\tCACHE\tOK")
	for _, l := range logs {
		m, _ := l.(map[string]any)
		cacheCol := "-"
		if hit, _ := m["cache_hit"].(bool); hit {
			cacheCol = fmt.Sprintf("%v", m["cache_level"])
		}
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t$%.6f\t%.0fms\t%s\t%v\n",
			m["timestamp"], m["request_id"], m["user_id"], m["provider_id"],
			m["model"], num(m["cost_usd"]), num(m["latency_ms"]), cacheCol, m["success"])
	}
	_ = w.Flush()
}

func doBudget(args []string) {
	requireArgs(args, 1, "budget <user> [team] [company]")
	body := map[string]string{"user_id": args[0]}
	if len(args) > 1 {
		body["team_id"] = args[1]
	}
	if len(args) > 2 {
		body["company_id"] = args[2]
	}
	raw, _ := json.Marshal(body)
	result := doPost("/v1/budget/summary", string(raw))
	scopes, _ := result["scopes"].([]any)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tENTITY\tPERIOD\tUSED\tLIMIT\tREMAINING")
	for _, s := range scopes {
		m, _ := s.(map[string]any)
		fmt.Fprintf(w, "%v\t%v\t%v\t$%.4f\t$%.4f\t$%.4f\n",
			m["level"], m["entity_id"], m["period"],
			num(m["used_usd"]), num(m["limit_usd"]), num(m["remaining_usd"]))
	}
	_ = w.Flush()
}

func doCacheClear() {
	req, err := http.NewRequest("POST", baseURL()+"/v1/cache/clear", strings.NewReader("{}"))
	fatal(err)
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("MODELMUX_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if tok := os.Getenv("MODELMUX_ADMIN_TOKEN"); tok != "" {
		req.Header.Set("X-Admin-Token", tok)
	}
	resp, err := http.DefaultClient.Do(req)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	readJSON(resp)
	fmt.Println("Cache cleared.")
}

func doComplete(args []string) {
	requireArgs(args, 1, `complete "<prompt>"`)
	user := os.Getenv("USER")
	if user == "" {
		user = "modelmuxctl"
	}
	body := map[string]string{"prompt": strings.Join(args, " "), "user_id": user}
	raw, _ := json.Marshal(body)
	result := doPost("/v1/chat/completions", string(raw))
	if ok, _ := result["success"].(bool); !ok {
		fmt.Fprintf(os.Stderr, "routing failed: %v\n", result["error"])
		os.Exit(1)
	}
	fmt.Println(result["content"])
	fmt.Fprintf(os.Stderr, "\n[%v/%v  $%.6f  %.0fms  cache=%v]\n",
		result["provider_id"], result["model"],
		num(result["cost_usd"]), num(result["latency_ms"]), result["cache_hit"])
}

func doEvents() {
	resp, err := doRequest("GET", "/admin/v1/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "streaming events (Ctrl-C to stop)...")
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Println(strings.TrimPrefix(line, "data: "))
		}
	}
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func orDash(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "-"
}
