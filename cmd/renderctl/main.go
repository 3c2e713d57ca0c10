package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"videoswap/internal/infra"
	"videoswap/internal/infra/credentials"
	"videoswap/internal/providers/render"
)

const usage = `usage: renderctl <command> [flags]

commands:
  account                     show provider account balance and running tasks
  workflow -ref REF           list the nodes of a workflow
  faceswap -ref REF -node ID -photo FILE [-wait]
                              upload a photo, submit the workflow, optionally wait
  set-key -key KEY            store the provider api key in the database
`

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "renderctl").Logger()
	ctx := context.Background()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "account":
		err = runAccount(ctx, &logger)
	case "workflow":
		err = runWorkflow(ctx, &logger, args)
	case "faceswap":
		err = runFaceSwap(ctx, &logger, args)
	case "set-key":
		err = runSetKey(ctx, logger, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		exitWithError(err)
	}
}

func newClient(logger *infra.Logger) (*render.Client, error) {
	key := strings.TrimSpace(os.Getenv("RENDER_API_KEY"))
	if key == "" {
		return nil, errors.New("RENDER_API_KEY is required")
	}
	return render.NewClient(render.Options{
		APIKey:         key,
		BaseURL:        os.Getenv("RENDER_BASE_URL"),
		Logger:         logger,
		RequestTimeout: 60 * time.Second,
	})
}

func runAccount(ctx context.Context, logger *infra.Logger) error {
	client, err := newClient(logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	info, err := client.AccountInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("coins:   %s\nmoney:   %s\nrunning: %d\napi:     %s\n", info.RemainCoins, info.RemainMoney, info.CurrentTaskCounts, info.APIType)
	return nil
}

func runWorkflow(ctx context.Context, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("workflow", flag.ExitOnError)
	ref := fs.String("ref", "", "workflow reference")
	raw := fs.Bool("raw", false, "print the raw node graph")
	_ = fs.Parse(args)
	if strings.TrimSpace(*ref) == "" {
		return errors.New("-ref is required")
	}

	client, err := newClient(logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	def, err := client.WorkflowDefinition(ctx, *ref)
	if err != nil {
		return err
	}
	if *raw {
		out, _ := json.MarshalIndent(def.Raw, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := def.Nodes[id]
		marker := ""
		if _, ok := node.Inputs[render.ImageField]; ok {
			marker = "  <- image input"
		}
		fmt.Printf("%-6s %s%s\n", id, node.ClassType, marker)
	}
	return nil
}

func runFaceSwap(ctx context.Context, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("faceswap", flag.ExitOnError)
	ref := fs.String("ref", "", "workflow reference")
	node := fs.String("node", "", "image node id")
	photo := fs.String("photo", "", "path to the photo")
	wait := fs.Bool("wait", false, "poll until the run finishes")
	maxWait := fs.Duration("max-wait", 10*time.Minute, "how long -wait polls")
	interval := fs.Duration("interval", 5*time.Second, "poll interval")
	_ = fs.Parse(args)
	if *ref == "" || *node == "" || *photo == "" {
		return errors.New("-ref, -node and -photo are required")
	}

	data, err := os.ReadFile(*photo)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	client, err := newClient(logger)
	if err != nil {
		return err
	}

	res, err := client.RunFaceSwap(ctx, *ref, data, filepath.Base(*photo), *node)
	if err != nil {
		return err
	}
	fmt.Printf("remote job %s submitted (%s)\n", res.RemoteJobID, res.RemoteStatus)
	if !*wait {
		return nil
	}

	outputs, err := client.WaitForCompletion(ctx, res.RemoteJobID, *maxWait, *interval, func(status string) {
		fmt.Printf("status: %s\n", status)
	})
	if err != nil {
		return err
	}
	for _, o := range outputs {
		fmt.Printf("%s\t%s\n", o.Kind, o.URL)
	}
	return nil
}

func runSetKey(ctx context.Context, logger infra.Logger, args []string) error {
	fs := flag.NewFlagSet("set-key", flag.ExitOnError)
	keyFlag := fs.String("key", "", "provider api key (falls back to RENDER_API_KEY)")
	byFlag := fs.String("by", os.Getenv("USER"), "operator recorded with the rotation")
	_ = fs.Parse(args)

	key := strings.TrimSpace(*keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("RENDER_API_KEY"))
	}
	if key == "" {
		return errors.New("api key is required via -key or RENDER_API_KEY")
	}
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Close()

	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.SetRenderAPIKey(ctx, key, *byFlag); err != nil {
		return fmt.Errorf("failed to persist api key: %w", err)
	}
	fmt.Println("render API key stored successfully")
	return nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "renderctl: %v\n", err)
	os.Exit(1)
}
