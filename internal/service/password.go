package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2Params is stored alongside each hash so verification uses the cost it
// was created with.
type Argon2Params struct {
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"`
	KeyLen  uint32 `json:"k"`
	SaltLen uint32 `json:"s"`
}

var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

var errEmptyPassword = errors.New("empty password")

type passwordHasher struct {
	params Argon2Params
}

func (p passwordHasher) Hash(password string) (hash, salt, paramsJSON []byte, err error) {
	if password == "" {
		return nil, nil, nil, errEmptyPassword
	}
	salt = make([]byte, p.params.SaltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, err
	}
	hash = argon2.IDKey([]byte(password), salt, p.params.Time, p.params.Memory, p.params.Threads, p.params.KeyLen)
	paramsJSON, err = json.Marshal(p.params)
	if err != nil {
		return nil, nil, nil, err
	}
	return hash, salt, paramsJSON, nil
}

func (p passwordHasher) Verify(password string, hash, salt, paramsJSON []byte) bool {
	var stored Argon2Params
	if err := json.Unmarshal(paramsJSON, &stored); err != nil {
		return false
	}
	calculated := argon2.IDKey([]byte(password), salt, stored.Time, stored.Memory, stored.Threads, stored.KeyLen)
	return subtle.ConstantTimeCompare(calculated, hash) == 1
}
