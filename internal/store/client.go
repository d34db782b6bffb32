package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"warreg/entity"
	"warreg/internal/config"
	"warreg/lib/sl"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Client mirrors registrations into the e-commerce platform's customer
// database: customers are found or created by email and each
// registration leaves an activity row. Like the CRM, failures stay in
// the dispatcher; they never touch the primary registration result.
type Client struct {
	db         *sql.DB
	prefix     string
	statements map[string]*sql.Stmt
	log        *slog.Logger
	mu         sync.Mutex
}

func NewClient(conf *config.Config, log *slog.Logger) (*Client, error) {
	if !conf.Store.Enabled {
		return nil, nil
	}
	connectionURI := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		conf.Store.UserName, conf.Store.Password, conf.Store.HostName, conf.Store.Port, conf.Store.Database)
	db, err := sql.Open("mysql", connectionURI)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// try to ping three times with a 30-second interval; wait for a database to start
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(30 * time.Second)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &Client{
		db:         db,
		prefix:     conf.Store.Prefix,
		statements: make(map[string]*sql.Stmt),
		log:        log.With(sl.Module("store")),
	}, nil
}

func (s *Client) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

// SyncRegistration mirrors one registration: find-or-insert the
// customer by email, then record the warranty activity.
func (s *Client) SyncRegistration(reg *entity.Registration, number *entity.WarrantyNumber) error {
	log := s.log.With(slog.String("email", reg.Email), sl.Code(reg.Code))

	customerId, err := s.findCustomer(reg.Email)
	if err != nil {
		return fmt.Errorf("find customer: %w", err)
	}
	if customerId == 0 {
		customerId, err = s.insertCustomer(reg)
		if err != nil {
			return fmt.Errorf("insert customer: %w", err)
		}
		log.With(slog.Int64("customer_id", customerId)).Debug("store customer created")
	}

	if err = s.insertActivity(customerId, reg, number); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	log.With(slog.Int64("customer_id", customerId)).Info("registration mirrored to store")
	return nil
}

func (s *Client) findCustomer(email string) (int64, error) {
	stmt, err := s.stmtSelectCustomer()
	if err != nil {
		return 0, err
	}
	var id int64
	err = stmt.QueryRow(email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Client) insertCustomer(reg *entity.Registration) (int64, error) {
	stmt, err := s.stmtInsertCustomer()
	if err != nil {
		return 0, err
	}
	result, err := stmt.Exec(
		reg.FirstName,
		reg.LastName,
		reg.Email,
		reg.Phone,
		time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Client) insertActivity(customerId int64, reg *entity.Registration, number *entity.WarrantyNumber) error {
	stmt, err := s.stmtInsertActivity()
	if err != nil {
		return err
	}
	comment := fmt.Sprintf("Warranty registered: %s (%s), code %s, valid until %s",
		reg.Product, reg.ProductId, number.Code, reg.WarrantyEndDate.Format("2006-01-02"))
	_, err = stmt.Exec(customerId, "warranty_registration", comment, time.Now())
	return err
}
