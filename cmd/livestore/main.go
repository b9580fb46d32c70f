package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/mfroach/livebind/livestore/config"
	"github.com/mfroach/livebind/livestore/live"
	"github.com/mfroach/livebind/livestore/schema"
)

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	errColor    = color.New(color.FgRed)
	okColor     = color.New(color.FgGreen)
)

func main() {
	var configPath string
	var interactive bool
	var queryStr string
	var help bool

	flag.StringVar(&configPath, "config", "livestore.toml", "store configuration file")
	flag.BoolVar(&interactive, "i", false, "interactive mode")
	flag.StringVar(&queryStr, "query", "", "run a single query and exit: 'Entity [where ...] [sort ...]'")
	flag.BoolVar(&help, "h", false, "show help")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "An inspector shell for a livestore database.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i                                   # interactive shell\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -query 'Item where done == false sort deadline asc'\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	descriptors, err := cfg.Descriptors()
	if err != nil {
		log.Fatalf("Bad schema: %v", err)
	}
	session, err := cfg.OpenSession()
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	store, err := live.Open(descriptors, session, live.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if queryStr != "" {
		if err := runQuery(store, queryStr); err != nil {
			errColor.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if interactive {
		runInteractive(store)
		return
	}
	flag.Usage()
}

func runInteractive(store *live.Store) {
	fmt.Println("livestore shell. Type 'help' for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		promptColor.Print("livestore> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest := splitCommand(line)
		var err error
		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "entities":
			printEntities(store)
		case "query":
			err = runQuery(store, rest)
		case "get":
			err = runGet(store, rest)
		case "create":
			err = runCreate(store, rest)
		case "set":
			err = runSet(store, rest)
		case "delete":
			err = runDelete(store, rest)
		case "watch":
			err = runWatch(store, rest, scanner)
		default:
			err = fmt.Errorf("unknown command %q (try 'help')", cmd)
		}
		if err != nil {
			errColor.Printf("error: %v\n", err)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  entities                                  list registered entities
  query <Entity> [where <f>] [sort <s>]     run a query
  get <Entity> <key>                        fetch one object
  create <Entity> prop=value ...            create an object
  set <Entity> <key> <prop> <value>         update one property
  delete <Entity> <key>                     delete an object
  watch <Entity> [where <f>]                print live diffs until Enter
  quit`)
}

func printEntities(store *live.Store) {
	for _, name := range store.Schema().Entities() {
		ent, err := store.Schema().Entity(name)
		if err != nil {
			continue
		}
		fmt.Printf("%s\n", name)
		for _, p := range ent.Properties {
			marker := " "
			if p.PrimaryKey {
				marker = "*"
			}
			extra := ""
			if p.Target != "" {
				extra = " -> " + p.Target
				if p.LinkedFrom != "" {
					extra += "." + p.LinkedFrom
				}
			}
			fmt.Printf("  %s %-20s %s%s\n", marker, p.Name, p.Type, extra)
		}
	}
}

// splitQuerySpec parses 'Entity [where <filter>] [sort <spec>]'.
func splitQuerySpec(input string) (entity, filter, sort string, err error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", "", "", fmt.Errorf("usage: query <Entity> [where <filter>] [sort <spec>]")
	}
	entity = fields[0]
	rest := strings.TrimSpace(input[len(entity):])

	lower := strings.ToLower(rest)
	if i := strings.LastIndex(lower, " sort "); i >= 0 {
		sort = strings.TrimSpace(rest[i+len(" sort "):])
		rest = strings.TrimSpace(rest[:i])
		lower = strings.ToLower(rest)
	} else if strings.HasPrefix(lower, "sort ") {
		sort = strings.TrimSpace(rest[len("sort "):])
		rest = ""
		lower = ""
	}
	if strings.HasPrefix(lower, "where ") {
		filter = strings.TrimSpace(rest[len("where "):])
	} else if rest != "" {
		return "", "", "", fmt.Errorf("expected 'where' or 'sort', got %q", rest)
	}
	return entity, filter, sort, nil
}

func runQuery(store *live.Store, input string) error {
	entity, filter, sortSpec, err := splitQuerySpec(input)
	if err != nil {
		return err
	}
	start := time.Now()
	results, err := store.GetQuery(entity, filter, sortSpec)
	if err != nil {
		return err
	}
	defer results.Release()
	elapsed := time.Since(start)

	ent, err := store.Schema().Entity(entity)
	if err != nil {
		return err
	}
	fmt.Println(formatObjects(ent, results.Objects()))
	fmt.Printf("(%v)\n", elapsed.Round(time.Microsecond))
	return nil
}

func runGet(store *live.Store, input string) error {
	fields := strings.Fields(input)
	if len(fields) != 2 {
		return fmt.Errorf("usage: get <Entity> <key>")
	}
	obj, err := store.Get(fields[0], fields[1])
	if err != nil {
		return err
	}
	if obj == nil {
		fmt.Println("not found")
		return nil
	}
	ent, err := store.Schema().Entity(fields[0])
	if err != nil {
		return err
	}
	fmt.Println(formatObjects(ent, []*live.Object{obj}))
	return nil
}

func runCreate(store *live.Store, input string) error {
	fields := strings.Fields(input)
	if len(fields) < 1 {
		return fmt.Errorf("usage: create <Entity> prop=value ...")
	}
	entity := fields[0]
	ent, err := store.Schema().Entity(entity)
	if err != nil {
		return err
	}

	values := make(map[string]any)
	for _, pair := range fields[1:] {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("expected prop=value, got %q", pair)
		}
		p, ok := ent.Property(name)
		if !ok {
			return fmt.Errorf("entity %q has no property %q", entity, name)
		}
		v, err := parseCLIValue(p, raw)
		if err != nil {
			return err
		}
		values[name] = v
	}

	return store.Run(func(tx *live.Transaction) error {
		obj, err := tx.Create(entity, values)
		if err != nil {
			return err
		}
		okColor.Printf("created %s[%s]\n", entity, obj.Key())
		return nil
	})
}

func runSet(store *live.Store, input string) error {
	fields := strings.Fields(input)
	if len(fields) < 4 {
		return fmt.Errorf("usage: set <Entity> <key> <prop> <value>")
	}
	entity, key, prop := fields[0], fields[1], fields[2]
	raw := strings.Join(fields[3:], " ")

	ent, err := store.Schema().Entity(entity)
	if err != nil {
		return err
	}
	p, ok := ent.Property(prop)
	if !ok {
		return fmt.Errorf("entity %q has no property %q", entity, prop)
	}
	v, err := parseCLIValue(p, raw)
	if err != nil {
		return err
	}

	return store.Run(func(tx *live.Transaction) error {
		obj, err := store.Get(entity, key)
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("%s[%s] not found", entity, key)
		}
		return obj.Set(prop, v)
	})
}

func runDelete(store *live.Store, input string) error {
	fields := strings.Fields(input)
	if len(fields) != 2 {
		return fmt.Errorf("usage: delete <Entity> <key>")
	}
	return store.Run(func(tx *live.Transaction) error {
		obj, err := store.Get(fields[0], fields[1])
		if err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("%s[%s] not found", fields[0], fields[1])
		}
		return tx.Delete(obj)
	})
}

func runWatch(store *live.Store, input string, scanner *bufio.Scanner) error {
	entity, filter, sortSpec, err := splitQuerySpec(input)
	if err != nil {
		return err
	}
	results, err := store.GetQuery(entity, filter, sortSpec)
	if err != nil {
		return err
	}
	defer results.Release()

	sub := results.Observe(func(c live.CollectionChange) {
		fmt.Printf("\n[%s] +%d -%d ~%d moved %d (now %d objects)\n",
			entity, len(c.Insertions), len(c.Deletions),
			len(c.Modifications), len(c.Moves), c.Collection.Len())
	})
	defer sub.Unobserve()

	fmt.Printf("watching %d objects; press Enter to stop\n", results.Len())
	scanner.Scan()
	return nil
}

func splitCommand(line string) (string, string) {
	cmd, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}

// parseCLIValue converts a command argument into the property's value
// type.
func parseCLIValue(p *schema.Property, raw string) (any, error) {
	raw = strings.Trim(raw, `"'`)
	if raw == "nil" || raw == "null" {
		return nil, nil
	}
	switch p.Type {
	case schema.Int:
		return strconv.ParseInt(raw, 10, 64)
	case schema.Float:
		return strconv.ParseFloat(raw, 64)
	case schema.Bool:
		return strconv.ParseBool(raw)
	case schema.Date:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", raw)
	case schema.String, schema.ObjectID, schema.Link:
		return raw, nil
	case schema.LinkList:
		if raw == "" {
			return []string{}, nil
		}
		return strings.Split(raw, ","), nil
	case schema.Binary:
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("cannot set %s property %q from the shell", p.Type, p.Name)
}
