package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/guidy/payments/internal/auth"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetOperatorByEmail(email string) (*auth.Operator, error) {
	var op auth.Operator
	query := `SELECT id, email, name, password_hash, is_active, created_at, updated_at
	          FROM operators WHERE email = ?`

	row := r.db.Raw(query, email).Row()
	if err := row.Scan(&op.ID, &op.Email, &op.Name, &op.PasswordHash, &op.IsActive, &op.CreatedAt, &op.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operator not found")
		}
		return nil, err
	}
	return &op, nil
}

func (r *Repository) GetOperatorByID(id string) (*auth.Operator, error) {
	var op auth.Operator
	query := `SELECT id, email, name, password_hash, is_active, created_at, updated_at
	          FROM operators WHERE id = ?`

	row := r.db.Raw(query, id).Row()
	if err := row.Scan(&op.ID, &op.Email, &op.Name, &op.PasswordHash, &op.IsActive, &op.CreatedAt, &op.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operator not found")
		}
		return nil, err
	}
	return &op, nil
}
