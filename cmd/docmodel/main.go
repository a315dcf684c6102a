// docmodel - inspect the collections behind docmodel entity types
//
// Reads its connection settings from DOCMODEL_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adrianmcphee/docmodel"
)

const envPrefix = "DOCMODEL_"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "ping":
		err = runPing(os.Args[2:])
	case "collection":
		err = runCollection(os.Args[2:])
	case "count":
		err = runCount(os.Args[2:])
	case "help", "--help", "-h":
		printHelp()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "docmodel: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`docmodel - inspect the collections behind docmodel entity types

Usage:
  docmodel ping                          Connect and ping MongoDB
  docmodel collection <TypeName>         Print the collection name of a type
  docmodel count <TypeName> [k=v ...]    Count documents matching k=v pairs

The key "id" is parsed as an ObjectID. Integer and boolean values are
matched as numbers and booleans; everything else as strings.

Environment:
  DOCMODEL_MONGO_URL              (default "mongodb://localhost:27017")
  DOCMODEL_MONGO_DATABASE         (default "app")
  DOCMODEL_MONGO_CONNECT_TIMEOUT  (default "10s")
  DOCMODEL_LOG_LEVEL              (default "info")`)
}

func runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	fs.Parse(args)

	ctx := context.Background()
	conn, logger, err := connect(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer conn.Close(context.Background())

	if err := conn.Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("ok database=%s\n", conn.DatabaseName())
	return nil
}

func runCollection(args []string) error {
	fs := flag.NewFlagSet("collection", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: docmodel collection <TypeName>")
	}
	fmt.Println(docmodel.CollectionName(fs.Arg(0)))
	return nil
}

func runCount(args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: docmodel count <TypeName> [k=v ...]")
	}
	filter, err := parseFilter(fs.Args()[1:])
	if err != nil {
		return err
	}

	ctx := context.Background()
	conn, logger, err := connect(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer conn.Close(context.Background())

	coll, err := conn.Resolve(ctx, docmodel.CollectionName(fs.Arg(0)))
	if err != nil {
		return err
	}
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func connect(ctx context.Context) (*docmodel.Connection, *docmodel.ZapLogger, error) {
	cfg, err := docmodel.LoadConfig(envPrefix)
	if err != nil {
		return nil, nil, err
	}
	logger, err := docmodel.NewZapLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	conn := docmodel.NewConnection(logger)
	if err := conn.ConnectFromConfig(ctx, cfg); err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return conn, logger, nil
}

// parseFilter turns k=v arguments into an exact-match filter in argument order.
func parseFilter(args []string) (bson.D, error) {
	filter := bson.D{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", arg)
		}

		if key == "id" || key == docmodel.IDField {
			native, err := docmodel.ObjectIDAdapter{}.ToNative(raw)
			if err != nil {
				return nil, err
			}
			filter = append(filter, bson.E{Key: docmodel.IDField, Value: native})
			continue
		}

		filter = append(filter, bson.E{Key: key, Value: parseValue(raw)})
	}
	return filter, nil
}

func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
