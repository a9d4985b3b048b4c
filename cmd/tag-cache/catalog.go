package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// catalog is the demo origin data the cached operations read from.
type catalog struct {
	db *sql.DB
}

type product struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Cents int64  `json:"cents"`
}

type userProfile struct {
	User  string `json:"user"`
	Plan  string `json:"plan"`
	Theme string `json:"theme"`
}

func openCatalog(filename string) (*catalog, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	statements := []string{
		"CREATE TABLE IF NOT EXISTS products (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, cents INTEGER NOT NULL)",
		"CREATE TABLE IF NOT EXISTS profiles (user TEXT PRIMARY KEY, plan TEXT NOT NULL, theme TEXT NOT NULL)",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}
	if err := seed(db); err != nil {
		return nil, err
	}
	return &catalog{db: db}, nil
}

func seed(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := db.Exec(
		"INSERT INTO products (name, cents) VALUES (?, ?), (?, ?), (?, ?)",
		"coffee", 450, "tea", 350, "cocoa", 400,
	); err != nil {
		return err
	}
	_, err := db.Exec(
		"INSERT INTO profiles (user, plan, theme) VALUES (?, ?, ?), (?, ?, ?)",
		"u1", "pro", "dark", "u2", "free", "light",
	)
	return err
}

func (c *catalog) listProducts(ctx context.Context) ([]product, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, name, cents FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make([]product, 0)
	for rows.Next() {
		var p product
		if err := rows.Scan(&p.ID, &p.Name, &p.Cents); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (c *catalog) getProduct(ctx context.Context, id string) (product, error) {
	var p product
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, cents FROM products WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Cents)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("product %s: not found", id)
	}
	return p, err
}

func (c *catalog) addProduct(ctx context.Context, name string, cents int64) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		"INSERT INTO products (name, cents) VALUES (?, ?)", name, cents)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (c *catalog) getProfile(ctx context.Context, user string) (userProfile, error) {
	var p userProfile
	err := c.db.QueryRowContext(ctx,
		"SELECT user, plan, theme FROM profiles WHERE user = ?", user,
	).Scan(&p.User, &p.Plan, &p.Theme)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("profile %s: not found", user)
	}
	return p, err
}

func (c *catalog) close() error {
	return c.db.Close()
}
