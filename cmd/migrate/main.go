package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/quillpost/quillpost-backend/internal/config"
	gdb "github.com/quillpost/quillpost-backend/internal/db"
	"github.com/quillpost/quillpost-backend/internal/db/backends/sqldb"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const usage = `Usage: migrate [flags] COMMAND

Commands:
  up       apply pending migrations (postgres)
  down     roll back the last migration (postgres)
  status   show applied migrations (postgres)
  ddl      print the DDL generated from the entity schemas

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(stderr)
	dir := flags.String("dir", "sql", "directory with migration files")
	dialectName := flags.String("dialect", "postgres", "dialect for the ddl command (postgres or sqlite)")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return 2
	}

	command := flags.Arg(0)
	if command == "ddl" {
		dialect, err := sqldb.DialectFor(*dialectName)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		printDDL(stdout, dialect)
		return 0
	}

	switch command {
	case "up", "down", "status":
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		flags.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Database.Type != "postgres" {
		fmt.Fprintf(stderr, "Migrations run against postgres only; QP_DB_TYPE is %q\n", cfg.Database.Type)
		return 1
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		fmt.Fprintf(stderr, "Failed to set dialect: %v\n", err)
		return 1
	}

	switch command {
	case "up":
		err = goose.Up(db, *dir)
	case "down":
		err = goose.Down(db, *dir)
	case "status":
		err = goose.Status(db, *dir)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Migration %s failed: %v\n", command, err)
		return 1
	}
	return 0
}

func printDDL(w io.Writer, dialect sqldb.Dialect) {
	stmts := sqldb.DDL(dialect, gdb.AllSchemas())
	fmt.Fprintf(w, "-- generated for %s\n\n", dialect.Name())
	fmt.Fprintln(w, strings.Join(stmts, ";\n\n")+";")
}
