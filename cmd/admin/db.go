package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/persistence/snapshot"
)

func openDB(dataDir string) *sql.DB {
	path := filepath.Join(dataDir, "game.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return db
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	limit := fs.Int("limit", 20, "result limit")
	userID := fs.String("user", "", "user id filter (actions, audits)")
	_ = fs.Parse(args)

	q := "players"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	db := openDB(*dataDir)
	defer db.Close()

	switch q {
	case "players":
		rows, err := db.Query(`SELECT id,name,gold,updated_at FROM players ORDER BY id LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID        string `json:"id"`
				Name      string `json:"name"`
				Gold      int64  `json:"gold"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.ID, &r.Name, &r.Gold, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "actions":
		q := `SELECT id,user_id,kind,status,ends_at,updated_at FROM actions ORDER BY updated_at DESC LIMIT ?`
		args := []any{*limit}
		if strings.TrimSpace(*userID) != "" {
			q = `SELECT id,user_id,kind,status,ends_at,updated_at FROM actions WHERE user_id=? ORDER BY updated_at DESC LIMIT ?`
			args = []any{strings.TrimSpace(*userID), *limit}
		}
		rows, err := db.Query(q, args...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID        string `json:"id"`
				UserID    string `json:"user_id"`
				Kind      string `json:"kind"`
				Status    string `json:"status"`
				EndsAt    int64  `json:"ends_at_unix"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.Status, &r.EndsAt, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "battles":
		rows, err := db.Query(`SELECT id,kind,status,challenger_id,opponent_id,stake,stake_state,expires_at,updated_at FROM battles ORDER BY updated_at DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID           string `json:"id"`
				Kind         string `json:"kind"`
				Status       string `json:"status"`
				ChallengerID string `json:"challenger_id"`
				OpponentID   string `json:"opponent_id"`
				Stake        int64  `json:"stake"`
				StakeState   string `json:"stake_state"`
				ExpiresAt    int64  `json:"expires_at_unix"`
				UpdatedAt    string `json:"updated_at"`
			}
			if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.ChallengerID, &r.OpponentID, &r.Stake, &r.StakeState, &r.ExpiresAt, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "matches":
		rows, err := db.Query(`SELECT battle_id,kind,status,challenger_id,opponent_ref,winner_id,stake,pot,turns,ended_at FROM matches ORDER BY ended_at DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				BattleID     string  `json:"battle_id"`
				Kind         string  `json:"kind"`
				Status       string  `json:"status"`
				ChallengerID string  `json:"challenger_id"`
				OpponentRef  string  `json:"opponent_ref"`
				WinnerID     *string `json:"winner_id"`
				Stake        int64   `json:"stake"`
				Pot          int64   `json:"pot"`
				Turns        int     `json:"turns"`
				EndedAt      string  `json:"ended_at"`
			}
			if err := rows.Scan(&r.BattleID, &r.Kind, &r.Status, &r.ChallengerID, &r.OpponentRef, &r.WinnerID, &r.Stake, &r.Pot, &r.Turns, &r.EndedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "audits":
		q := `SELECT seq,at,actor,event_type,raw_json FROM audits ORDER BY seq DESC LIMIT ?`
		args := []any{*limit}
		if strings.TrimSpace(*userID) != "" {
			q = `SELECT seq,at,actor,event_type,raw_json FROM audits WHERE actor=? ORDER BY seq DESC LIMIT ?`
			args = []any{strings.TrimSpace(*userID), *limit}
		}
		rows, err := db.Query(q, args...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq       int64   `json:"seq"`
				At        string  `json:"at"`
				Actor     *string `json:"actor"`
				EventType string  `json:"event_type"`
				RawJSON   string  `json:"raw_json"`
			}
			if err := rows.Scan(&r.Seq, &r.At, &r.Actor, &r.EventType, &r.RawJSON); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "snapshots":
		rows, err := db.Query(`SELECT id,kind,owner,entity_id,expires_at,restored,created_at FROM snapshots ORDER BY created_at DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID        string `json:"id"`
				Kind      string `json:"kind"`
				Owner     string `json:"owner"`
				EntityID  string `json:"entity_id"`
				ExpiresAt int64  `json:"expires_at_unix"`
				Restored  int    `json:"restored"`
				CreatedAt string `json:"created_at"`
			}
			if err := rows.Scan(&r.ID, &r.Kind, &r.Owner, &r.EntityID, &r.ExpiresAt, &r.Restored, &r.CreatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		usage()
	}
}

func formulaCmd(args []string) {
	fs := flag.NewFlagSet("formula", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	sub := "list"
	if fs.NArg() > 0 {
		sub = strings.TrimSpace(fs.Arg(0))
	}

	db := openDB(*dataDir)
	defer db.Close()

	switch sub {
	case "list":
		rows, err := db.Query(`SELECT name,expr,updated_at FROM formulas ORDER BY name`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Expr      string `json:"expr"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Expr, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "set":
		if fs.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "usage: admin formula set NAME EXPR")
			os.Exit(2)
		}
		name := strings.TrimSpace(fs.Arg(1))
		expr := strings.TrimSpace(fs.Arg(2))
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := db.Exec(`INSERT INTO formulas(name,expr,updated_at) VALUES(?,?,?)
			ON CONFLICT(name) DO UPDATE SET expr=excluded.expr, updated_at=excluded.updated_at`, name, expr, now); err != nil {
			fmt.Fprintln(os.Stderr, "set:", err)
			os.Exit(1)
		}
		fmt.Printf("formula %s set\n", name)

	default:
		fmt.Fprintln(os.Stderr, "unknown subcommand:", sub)
		usage()
	}
}

func giveCmd(args []string) {
	fs := flag.NewFlagSet("give", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	playerID := fs.String("player", "", "player id (required)")
	gold := fs.Int64("gold", 0, "gold delta")
	itemID := fs.String("item", "", "item id to grant")
	count := fs.Int("count", 1, "item count")
	_ = fs.Parse(args)

	if strings.TrimSpace(*playerID) == "" {
		fmt.Fprintln(os.Stderr, "missing -player")
		os.Exit(2)
	}

	// Goes through the store so the indexed gold column and raw_json stay in
	// step. Stop the server first; there is no cross-process lock.
	store, err := gamedb.Open(filepath.Join(*dataDir, "game.sqlite"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer store.Close()

	err = store.WithTx(func(tx *gamedb.Tx) error {
		p, err := tx.GetPlayer(*playerID)
		if err != nil {
			return err
		}
		p.Gold += *gold
		if p.Gold < 0 {
			p.Gold = 0
		}
		if strings.TrimSpace(*itemID) != "" && *count > 0 {
			p.AddItems(map[string]int{strings.TrimSpace(*itemID): *count})
		}
		return tx.PutPlayer(p)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "give:", err)
		os.Exit(1)
	}
	fmt.Printf("give ok: player=%s gold=%+d item=%s count=%d\n", *playerID, *gold, *itemID, *count)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin snapshot [-data ./data] ID")
		os.Exit(2)
	}
	id := strings.TrimSpace(fs.Arg(0))

	db := openDB(*dataDir)
	defer db.Close()

	var payload []byte
	if err := db.QueryRow(`SELECT payload FROM snapshots WHERE id=?`, id).Scan(&payload); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}

	var body map[string]any
	h, err := snapshot.Decode(payload, &body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	printJSON(map[string]any{"header": h, "body": body})
}

func checkRows(rows *sql.Rows) {
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}
