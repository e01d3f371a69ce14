package foryou

import "github.com/google/uuid"

// UUIDv7Provider issues time-ordered triage record keys.
type UUIDv7Provider struct{}

func (UUIDv7Provider) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
