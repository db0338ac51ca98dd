package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jptalukdar/dpdb"
	"github.com/jptalukdar/dpdb/internal/logger"
)

func main() {
	// Flags
	path := flag.String("file", "dpdb.db", "Path to the database file")
	quiet := flag.Bool("quiet", false, "Disable info logging (log only errors)")
	locking := flag.Bool("lock", true, "Take advisory file locks around each operation")
	compress := flag.Bool("compress", false, "Zstd-compress scalar payloads")
	flag.Parse()

	// Logging Setup
	logFile, err := os.OpenFile("dpdb.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()

	multiWriter := io.MultiWriter(os.Stdout, logFile)
	logger.Setup(multiWriter)

	if *quiet {
		logger.SetLevel(logger.LevelError)
	} else {
		logger.SetLevel(logger.LevelInfo)
	}

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	op := args[0]
	rest := args[1:]

	logger.Info("dpdb CLI starting: op=%s file=%s", op, *path)

	h, err := dpdb.Open(dpdb.Options{
		Path:     *path,
		Locking:  *locking,
		Compress: *compress,
		Debug:    !*quiet,
	})
	if err != nil {
		logger.Fatal("open %s: %v", *path, err)
	}
	defer h.Close()

	// Graceful shutdown: Optimize in particular can run for a while on a
	// large file, so a Ctrl+C still lets the handle close cleanly.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("signal received, closing %s", *path)
		h.Close()
		os.Exit(130)
	}()

	if err := run(h, op, rest); err != nil {
		logger.Fatal("%s: %v", op, err)
	}
}

func run(h *dpdb.Handle, op string, args []string) error {
	switch op {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put <key> <value>")
		}
		inserted, err := h.Put([]byte(args[0]), []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("inserted=%v\n", inserted)
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <key>")
		}
		v, ok, err := h.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(absent)")
			return nil
		}
		printValue(v)
		return nil

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <key>")
		}
		v, ok, err := h.Delete([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(absent)")
			return nil
		}
		printValue(v)
		return nil

	case "keys":
		key, ok, err := h.FirstKey()
		if err != nil {
			return err
		}
		for ok {
			fmt.Println(string(key))
			key, ok, err = h.NextKey(key)
			if err != nil {
				return err
			}
		}
		return nil

	case "len":
		n, err := h.Length()
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "optimize":
		if err := h.Optimize(); err != nil {
			return err
		}
		fmt.Println("optimize complete")
		return nil

	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

func printValue(v any) {
	switch val := v.(type) {
	case nil:
		fmt.Println("(null)")
	case []byte:
		fmt.Println(string(val))
	case *dpdb.Handle:
		tree, err := val.Export()
		if err != nil {
			fmt.Printf("(composite, export failed: %v)\n", err)
			return
		}
		fmt.Println(tree)
	default:
		fmt.Println(val)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: dpdb -file <path> <operation> [args...]

operations:
  put <key> <value>   store a scalar value under key
  get <key>            fetch the value stored under key
  delete <key>         remove key's binding
  keys                 list every top-level key in digest order
  len                  print the root list's length (list files only)
  optimize             compact the file in place

flags:`)
	flag.PrintDefaults()
}
