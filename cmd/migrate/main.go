package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		dbURL  = flag.String("db", os.Getenv("QUERYHUB_DATABASE_URL"), "Postgres connection string")
		dir    = flag.String("dir", "migrations", "Migrations directory")
		status = flag.Bool("status", false, "List applied and pending migrations without applying")
	)
	flag.Parse()

	if *dbURL == "" {
		log.Fatal("missing -db or QUERYHUB_DATABASE_URL")
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := ensureMigrationsTable(db); err != nil {
		log.Fatalf("migrations table: %v", err)
	}

	files, err := listSQLFiles(*dir)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	applied, err := appliedMigrations(db)
	if err != nil {
		log.Fatalf("read applied migrations: %v", err)
	}
	pending := pendingFiles(files, applied)

	if *status {
		for _, p := range files {
			state := "applied"
			if _, ok := applied[filepath.Base(p)]; !ok {
				state = "pending"
			}
			fmt.Printf("%-8s %s\n", state, filepath.Base(p))
		}
		return
	}

	for _, p := range pending {
		if err := applyMigrationFile(db, p); err != nil {
			log.Fatalf("apply %s: %v", p, err)
		}
		log.Printf("applied %s", filepath.Base(p))
	}
	log.Printf("%d migrations applied from %s", len(pending), *dir)
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		create table if not exists schema_migrations (
			filename text primary key,
			applied_at timestamptz not null default now()
		)
	`)
	return err
}

func appliedMigrations(db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.Query(`select filename from schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// pendingFiles keeps lexical order so numbered migrations apply in sequence.
func pendingFiles(files []string, applied map[string]struct{}) []string {
	var out []string
	for _, p := range files {
		if _, ok := applied[filepath.Base(p)]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func applyMigrationFile(db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sqlText := strings.TrimSpace(string(b))
	if sqlText == "" {
		return fmt.Errorf("empty migration")
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sqlText); err != nil {
		return err
	}
	if _, err := tx.Exec(`insert into schema_migrations (filename) values ($1)`, filepath.Base(path)); err != nil {
		return err
	}
	return tx.Commit()
}
