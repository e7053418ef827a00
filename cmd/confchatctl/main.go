package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/matheus3301/confchat/internal/api"
	"github.com/matheus3301/confchat/internal/credential"
	"github.com/matheus3301/confchat/internal/profile"
)

type options struct {
	json    bool
	refresh bool
	cached  bool
	msgType string
	scope   string
	session int64
	limit   int
	before  int64
	token   string
	timeout time.Duration
}

func main() {
	var opts options
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	pflag.BoolVar(&opts.json, "json", false, "output in JSON format")
	pflag.BoolVar(&opts.refresh, "refresh", false, "contacts: reload from the backend")
	pflag.BoolVar(&opts.cached, "cached", false, "messages: read from the local cache")
	pflag.StringVar(&opts.msgType, "type", "text", "send: message type (text, image, file)")
	pflag.StringVar(&opts.scope, "scope", api.ScopeContacts, "search: contacts, all or messages")
	pflag.Int64Var(&opts.session, "session", 0, "messages/search: session id (default: active session)")
	pflag.IntVar(&opts.limit, "limit", 50, "messages/search: maximum results")
	pflag.Int64Var(&opts.before, "before", 0, "messages: only messages older than this unix ms timestamp")
	pflag.StringVar(&opts.token, "token", "", "login: access token (default: $"+credential.EnvToken+")")
	pflag.DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")
	pflag.Usage = printUsage
	pflag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "login" {
		cmdLogin(name, opts)
		return
	}

	c, err := api.NewClient(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, opts)
	case "contacts":
		resp := call(ctx, c, api.MethodListContacts, map[string]any{"refresh": opts.refresh})
		printContacts(resp, opts)
	case "select":
		id := requireInt(args, "usage: confchatctl select <contact-id>")
		resp := call(ctx, c, api.MethodSelectContact, map[string]any{"contact_id": id})
		if opts.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("Session: %v\n", resp["session_id"])
		if w, ok := resp["warning"]; ok {
			fmt.Printf("Warning: %v\n", w)
		}
		printMessages(resp)
	case "send":
		if len(args) < 2 {
			fail(fmt.Errorf("usage: confchatctl send <text>"))
		}
		resp := call(ctx, c, api.MethodSendMessage, map[string]any{
			"content": strings.Join(args[1:], " "),
			"type":    opts.msgType,
		})
		cmdSendResult(resp, opts)
	case "search":
		if len(args) < 2 {
			fail(fmt.Errorf("usage: confchatctl search <query>"))
		}
		resp := call(ctx, c, api.MethodSearch, map[string]any{
			"query":      strings.Join(args[1:], " "),
			"scope":      opts.scope,
			"session_id": opts.session,
			"limit":      opts.limit,
		})
		if opts.scope == api.ScopeMessages {
			if opts.json {
				outputJSON(resp)
				return
			}
			printMessages(resp)
			return
		}
		printContacts(resp, opts)
	case "reset":
		resp := call(ctx, c, api.MethodResetSearch, nil)
		printContacts(resp, opts)
	case "messages":
		resp := call(ctx, c, api.MethodListMessages, map[string]any{
			"session_id":     opts.session,
			"limit":          opts.limit,
			"cached":         opts.cached,
			"before_unix_ms": opts.before,
		})
		if opts.json {
			outputJSON(resp)
			return
		}
		printMessages(resp)
	case "read":
		if len(args) < 2 {
			fail(fmt.Errorf("usage: confchatctl read <message-id>"))
		}
		resp := call(ctx, c, api.MethodMarkRead, map[string]any{"message_id": args[1]})
		if opts.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("Marked %v as read\n", resp["message_id"])
	case "reconnect":
		resp := call(ctx, c, api.MethodReconnect, nil)
		if opts.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("Socket: %v\n", resp["socket_state"])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: confchatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login [--token T]     Store an access token for the profile")
	fmt.Fprintln(os.Stderr, "  status                Show daemon, socket and conversation state")
	fmt.Fprintln(os.Stderr, "  contacts [--refresh]  List contacts")
	fmt.Fprintln(os.Stderr, "  select <contact-id>   Open the conversation with a contact")
	fmt.Fprintln(os.Stderr, "  send <text>           Send a message to the active conversation")
	fmt.Fprintln(os.Stderr, "  search <query>        Search contacts, all users or cached messages")
	fmt.Fprintln(os.Stderr, "  reset                 Clear the contact search")
	fmt.Fprintln(os.Stderr, "  messages              List messages of the active conversation")
	fmt.Fprintln(os.Stderr, "  read <message-id>     Mark a message as read")
	fmt.Fprintln(os.Stderr, "  reconnect             Reset the socket's reconnect budget and connect")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "flags:")
	pflag.PrintDefaults()
}

func cmdLogin(name string, opts options) {
	token := opts.token
	if token == "" {
		token = os.Getenv(credential.EnvToken)
	}
	if token == "" {
		fail(fmt.Errorf("no token given; use --token or $%s", credential.EnvToken))
	}
	claims, err := credential.ParseToken(token, time.Now())
	if err != nil {
		fail(err)
	}
	if err := profile.EnsureDir(name); err != nil {
		fail(err)
	}
	user := credential.Identity{ID: claims.UserID, Email: claims.Email}
	if err := credential.Save(profile.CredentialsPath(name), token, user); err != nil {
		fail(err)
	}
	fmt.Printf("Stored credentials for user %d (%s), expires %s\n",
		claims.UserID, claims.Email, claims.Expiry.Format(time.RFC3339))
}

func cmdStatus(ctx context.Context, c *api.Client, opts options) {
	resp := call(ctx, c, api.MethodStatus, nil)
	if opts.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:   %v\n", resp["profile"])
	fmt.Printf("Socket:    %v (attempts %v)\n", resp["socket_state"], resp["reconnect_attempts"])
	if e, ok := resp["socket_error"]; ok {
		fmt.Printf("           %v\n", e)
	}
	fmt.Printf("Phase:     %v\n", resp["phase"])
	if sel, ok := resp["selected_contact"].(map[string]any); ok {
		fmt.Printf("Contact:   %v (session %v)\n", sel["name"], resp["session_id"])
	}
	fmt.Printf("Cached:    %v messages\n", resp["cached_messages"])
	fmt.Printf("Outbox:    %v pending\n", resp["pending_outbox"])
	if e, ok := resp["last_error"]; ok {
		fmt.Printf("Error:     %v\n", e)
	}
	fmt.Printf("Uptime:    %v\n", time.Duration(resp["uptime_ms"].(float64))*time.Millisecond)
}

func cmdSendResult(resp map[string]any, opts options) {
	if opts.json {
		outputJSON(resp)
		return
	}
	switch {
	case resp["queued"] == true:
		fmt.Println("Backend unreachable; message queued for delivery.")
	case resp["sent"] == true:
		msg, _ := resp["message"].(map[string]any)
		fmt.Printf("Sent (id %v)\n", msg["id"])
	default:
		fmt.Println("Nothing to send.")
	}
}

func printContacts(resp map[string]any, opts options) {
	if opts.json {
		outputJSON(resp)
		return
	}
	contacts, _ := resp["contacts"].([]any)
	if len(contacts) == 0 {
		fmt.Println("No contacts.")
		return
	}
	for _, v := range contacts {
		ct := v.(map[string]any)
		unread := ""
		if n, _ := ct["unread_count"].(float64); n > 0 {
			unread = fmt.Sprintf(" [%d unread]", int(n))
		}
		fmt.Printf("%6v  %-28v %-28v%s\n", ct["id"], ct["name"], ct["email"], unread)
	}
}

func printMessages(resp map[string]any) {
	msgs, _ := resp["messages"].([]any)
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, v := range msgs {
		m := v.(map[string]any)
		ts := time.UnixMilli(int64(m["timestamp_unix_ms"].(float64))).Local().Format("01-02 15:04")
		who := fmt.Sprintf("%v", m["sender_id"])
		if m["from_me"] == true {
			who = "me"
		}
		read := ""
		if m["is_read"] == true {
			read = " ✓"
		}
		fmt.Printf("%s  %-6s %v%s\n", ts, who, m["content"], read)
	}
}

func call(ctx context.Context, c *api.Client, method string, req map[string]any) map[string]any {
	resp, err := c.Call(ctx, method, req)
	if err != nil {
		fail(err)
	}
	return resp
}

func requireInt(args []string, usage string) int64 {
	if len(args) < 2 {
		fail(fmt.Errorf("%s", usage))
	}
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fail(fmt.Errorf("%s", usage))
	}
	return n
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
