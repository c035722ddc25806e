// Command engram is a terminal front end for the memory-backed chat.
//
// Usage:
//
//	engram init
//	    Initializes the persistent memory database.
//
//	engram embed <text>
//	    Prints the embedding of <text>.
//
//	engram add <text>
//	    Adds <text> with the current timestamp to the memory.
//
//	engram update <id> <text>
//	    Replaces the memory with id <id> by <text>, re-embedding it.
//
//	engram query <query> [<start-time> [<end-time>]]
//	    Finds the memories most relevant to <query>. If <start-time> is
//	    given, include only memories added at or after it. If <end-time>
//	    is given, include only memories added before it. The time format
//	    is "YYYY-MM-DDThh:mm:ss.xxxxxx" in UTC.
//
//	engram get <id>
//	    Prints the memory with id <id>.
//
//	engram delete <id>
//	    Deletes the memory with id <id>.
//
//	engram rate <id>
//	    Rates the importance of the memory with id <id> and stores the
//	    rating.
//
//	engram chat
//	    Chats in the terminal, saving the conversation to the external
//	    memory. Type "quit" to exit.
//
//	engram serve
//	    Serves the chat over WebSocket on PORT (default 8080).
//
// Configuration comes from the environment (a .env file is loaded if
// present): ANTHROPIC_API_KEY, OPENAI_API_KEY (omit to use the
// deterministic local embedder), ENGRAM_DB_PATH (omit for in-memory),
// REDIS_URL (omit for in-process history), PORT.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/engramdev/engram/chat"
	"github.com/engramdev/engram/core"
	"github.com/engramdev/engram/memory"
	"github.com/engramdev/engram/memory/embedder/cache"
	"github.com/engramdev/engram/memory/embedder/mock"
	"github.com/engramdev/engram/memory/embedder/openai"
	"github.com/engramdev/engram/memory/store/chromem"
	"github.com/engramdev/engram/memory/store/inmem"
	anthropicmodel "github.com/engramdev/engram/model/anthropic"
	"github.com/engramdev/engram/prompt"
	"github.com/engramdev/engram/server"
)

// timeLayout matches timestamps like "2021-01-01T12:34:56.123456" (UTC).
const timeLayout = "2006-01-02T15:04:05.999999"

const defaultDBPath = ".engram"

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: engram <init|embed|add|update|query|get|delete|rate|chat|serve> [args]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env, err := newEnv()
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}
	defer env.close()

	if err := run(ctx, env, args[0], args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, env *env, command string, args []string) error {
	switch command {
	case "init":
		// newEnv already created the database; opening is initializing.
		log.Printf("initialized memory database at %s", env.dbPath)
		return nil

	case "embed":
		text, err := arg(args, 0, "text")
		if err != nil {
			return err
		}
		vec, err := env.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		fmt.Printf("Text: %s\n", text)
		fmt.Printf("Embedding: %v\n", vec)
		return nil

	case "add":
		text, err := arg(args, 0, "text")
		if err != nil {
			return err
		}
		turn := core.NewTurn(core.RoleUser, text, "")
		ids, err := env.writer.Record(ctx, turn)
		if err != nil {
			return err
		}
		log.Printf("Added memory %q with id %s.", text, strings.Join(ids, ", "))
		return nil

	case "update":
		id, err := arg(args, 0, "id")
		if err != nil {
			return err
		}
		text, err := arg(args, 1, "text")
		if err != nil {
			return err
		}
		if err := updateByID(ctx, env, id, text); err != nil {
			return err
		}
		log.Printf("Updated memory %s with new content %q.", id, text)
		return nil

	case "query":
		query, err := arg(args, 0, "query")
		if err != nil {
			return err
		}
		opts := memory.SearchOptions{}
		if len(args) > 1 && args[1] != "" {
			opts.Since, err = time.Parse(timeLayout, args[1])
			if err != nil {
				return fmt.Errorf("bad start time %q: %w", args[1], err)
			}
		}
		if len(args) > 2 && args[2] != "" {
			opts.AsOf, err = time.Parse(timeLayout, args[2])
			if err != nil {
				return fmt.Errorf("bad end time %q: %w", args[2], err)
			}
		}
		results, err := env.retriever.Search(ctx, query, opts)
		if err != nil {
			return err
		}
		log.Printf("Found %d memories matching %q.", len(results), query)
		for _, res := range results {
			fmt.Printf("%s (score=%.4f, importance=%d) %s\n",
				res.ID, res.Score, res.Importance, res.Text)
		}
		return nil

	case "get":
		id, err := arg(args, 0, "id")
		if err != nil {
			return err
		}
		rec, err := env.store.Get(ctx, memory.ScopeGlobal(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Memory %s (importance=%d): %s\n", rec.ID, rec.Importance, rec.Text)
		return nil

	case "delete":
		id, err := arg(args, 0, "id")
		if err != nil {
			return err
		}
		if err := env.store.Delete(ctx, memory.ScopeGlobal(), id); err != nil {
			return err
		}
		log.Printf("Deleted memory %s.", id)
		return nil

	case "rate":
		id, err := arg(args, 0, "id")
		if err != nil {
			return err
		}
		return rateByID(ctx, env, id)

	case "chat":
		return chatLoop(ctx, env)

	case "serve":
		return serve(ctx, env)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// updateByID replaces a record's text, keeping its identity and
// provenance but re-embedding the new content.
func updateByID(ctx context.Context, env *env, id, text string) error {
	rec, err := env.store.Get(ctx, memory.ScopeGlobal(), id)
	if err != nil {
		return err
	}
	vec, err := env.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	if err := env.store.Delete(ctx, memory.ScopeGlobal(), id); err != nil {
		return err
	}
	rec.Text = text
	rec.Embedding = vec
	_, err = env.store.Insert(ctx, rec)
	return err
}

// rateByID asks the model for an importance rating and rewrites the
// record with it. The existing embedding is reused, so no re-embedding
// happens.
func rateByID(ctx context.Context, env *env, id string) error {
	model, err := env.model()
	if err != nil {
		return err
	}
	rec, err := env.store.Get(ctx, memory.ScopeGlobal(), id)
	if err != nil {
		return err
	}
	rating, err := chat.NewRater(model).Rate(ctx, rec.Text)
	if err != nil {
		return err
	}
	if err := env.store.Delete(ctx, memory.ScopeGlobal(), id); err != nil {
		return err
	}
	rec.Importance = rating
	if _, err := env.store.Insert(ctx, rec); err != nil {
		return err
	}
	log.Printf("Rated memory %s with %d.", id, rating)
	return nil
}

// chatLoop runs the conversation in the terminal until "quit" or EOF.
func chatLoop(ctx context.Context, env *env) error {
	loop, err := env.newLoop(core.NewSessionID())
	if err != nil {
		return err
	}
	defer loop.Close()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "quit" {
			return nil
		}
		reply, err := loop.Turn(ctx, input)
		if err != nil {
			if loop.State() == chat.StateClosed {
				return nil
			}
			log.Printf("[CHAT] turn failed: %v", err)
			continue
		}
		fmt.Printf("Assistant: %s\n", reply)
	}
}

// serve exposes the chat over WebSocket, one session per connection.
func serve(ctx context.Context, env *env) error {
	if _, err := env.model(); err != nil {
		return err
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := server.New(server.Config{Addr: ":" + port}, func(sessionID string) *chat.Loop {
		loop, err := env.newLoop(sessionID)
		if err != nil {
			// model() was checked above; only history dialing can
			// fail here, and that is fatal for the connection.
			log.Printf("[SERVER] loop setup failed: %v", err)
			return nil
		}
		return loop
	})
	return srv.ListenAndServe(ctx)
}

// env wires the store, embedder and memory pipeline from the process
// environment.
type env struct {
	store     memory.Store
	embedder  memory.Embedder
	cache     *cache.Embedder
	writer    *memory.Writer
	retriever *memory.Retriever
	history   chat.History
	dbPath    string
}

func newEnv() (*env, error) {
	e := &env{}

	e.dbPath = os.Getenv("ENGRAM_DB_PATH")
	if e.dbPath == "" {
		e.dbPath = defaultDBPath
	}
	switch {
	case os.Getenv("ENGRAM_IN_MEMORY") != "":
		e.store = inmem.New()
		e.dbPath = "(in-memory)"
	default:
		store, err := chromem.NewPersistent(e.dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening memory database: %w", err)
		}
		e.store = store
	}

	var inner memory.Embedder
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		inner = openai.New(openai.Config{APIKey: key})
	} else {
		log.Println("[CHAT] OPENAI_API_KEY not set, using local deterministic embedder")
		inner = mock.New(0)
	}
	cached, err := cache.New(inner, 0)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	e.cache = cached
	e.embedder = cached

	// CLI verbs operate on one shared global memory, like a single
	// long-running conversation.
	cfg := memory.DefaultConfig()
	cfg.GlobalScope = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e.writer = memory.NewWriter(e.store, e.embedder, cfg)
	e.retriever = memory.NewRetriever(e.store, e.embedder, cfg)

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hist, err := chat.DialRedisHistory(ctx, redisURL, chat.DefaultHistoryTTL)
		if err != nil {
			return nil, fmt.Errorf("redis history: %w", err)
		}
		e.history = hist
	}

	return e, nil
}

// model builds the Anthropic model, failing when the key is missing.
// Only the verbs that talk to the model need it.
func (e *env) model() (chat.Model, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
	}
	return anthropicmodel.New(anthropicmodel.Config{
		APIKey:       key,
		Model:        os.Getenv("ENGRAM_MODEL"),
		SystemPrompt: os.Getenv("ENGRAM_SYSTEM_PROMPT"),
	}), nil
}

// newLoop assembles a conversation loop scoped to one session.
func (e *env) newLoop(sessionID string) (*chat.Loop, error) {
	model, err := e.model()
	if err != nil {
		return nil, err
	}
	writer := memory.NewWriter(e.store, e.embedder, nil).
		WithImportance(chat.NewRater(model).ImportanceFunc())
	retriever := memory.NewRetriever(e.store, e.embedder, nil)
	assembler := prompt.NewAssembler(0, nil)
	return chat.NewLoop(sessionID, model, writer, retriever, assembler, e.history, nil), nil
}

func (e *env) close() {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

func arg(args []string, i int, name string) (string, error) {
	if i >= len(args) || args[i] == "" {
		return "", fmt.Errorf("missing required argument <%s>", name)
	}
	return args[i], nil
}
