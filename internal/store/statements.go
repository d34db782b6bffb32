package store

import (
	"database/sql"
	"fmt"
)

func (s *Client) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *Client) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

func (s *Client) stmtSelectCustomer() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT customer_id FROM %scustomer WHERE email = ? LIMIT 1`,
		s.prefix,
	)
	return s.prepareStmt("selectCustomer", query)
}

func (s *Client) stmtInsertCustomer() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`INSERT INTO %scustomer
                   (firstname, lastname, email, telephone, status, date_added)
                   VALUES (?, ?, ?, ?, 1, ?)`,
		s.prefix,
	)
	return s.prepareStmt("insertCustomer", query)
}

func (s *Client) stmtInsertActivity() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`INSERT INTO %scustomer_activity
                   (customer_id, activity_key, comment, date_added)
                   VALUES (?, ?, ?, ?)`,
		s.prefix,
	)
	return s.prepareStmt("insertActivity", query)
}
