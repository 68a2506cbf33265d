package nl2sql

import (
	"encoding/json"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

const (
	mockBooksSQL   = "SELECT * FROM books;"
	mockUsersSQL   = "SELECT * FROM users LIMIT 10;"
	mockGenericSQL = "SELECT * FROM table_name LIMIT 10;"
	mockApology    = "I'm sorry, I couldn't process your request due to API limitations. Please try again later."
)

var mockSchemaDocument = query.SchemaDocument{
	Tables: []query.TableSpec{
		{
			Name:      "users",
			CreateSQL: "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT, created_at TEXT);",
			SampleData: []string{
				"INSERT INTO users (name, email, created_at) VALUES ('John Doe', 'john@example.com', '2023-01-01');",
				"INSERT INTO users (name, email, created_at) VALUES ('Jane Smith', 'jane@example.com', '2023-01-02');",
			},
		},
		{
			Name:      "items",
			CreateSQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, description TEXT, user_id INTEGER, FOREIGN KEY (user_id) REFERENCES users(id));",
			SampleData: []string{
				"INSERT INTO items (name, description, user_id) VALUES ('Item 1', 'Description 1', 1);",
				"INSERT INTO items (name, description, user_id) VALUES ('Item 2', 'Description 2', 2);",
			},
		},
	},
	Indexes: []string{
		"CREATE INDEX idx_users_email ON users(email);",
		"CREATE INDEX idx_items_user_id ON items(user_id);",
	},
	Description: "A simple database with users and items tables.",
}

// mockContent picks a canned reply from the most recent user message.
func mockContent(messages []Message) string {
	text := strings.ToLower(lastUserMessage(messages))
	switch {
	case strings.Contains(text, "database schema") || strings.Contains(text, "create a database"):
		body, err := json.Marshal(mockSchemaDocument)
		if err != nil {
			return mockApology
		}
		return string(body)
	case strings.Contains(text, "sql") || strings.Contains(text, "query"):
		switch {
		case strings.Contains(text, "books"):
			return mockBooksSQL
		case strings.Contains(text, "users"):
			return mockUsersSQL
		default:
			return mockGenericSQL
		}
	default:
		return mockApology
	}
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
