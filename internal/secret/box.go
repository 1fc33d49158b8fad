package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/shaiso/wip/internal/scope"
)

var (
	// ErrUndecryptable — шифротекст создан другим ключом или повреждён.
	ErrUndecryptable = errors.New("secret cannot be decrypted")

	// ErrNotFound — секрет не сохранён.
	ErrNotFound = errors.New("secret not found")
)

const (
	keySize   = 32
	nonceSize = 24
)

// Box — симметричное шифрование NaCl secretbox с ключом процесса.
type Box struct {
	once sync.Once
	key  [keySize]byte
	err  error
	rand io.Reader
}

// NewBox создаёт Box. Ключ генерируется при первом Seal/Open.
func NewBox() *Box {
	return &Box{rand: rand.Reader}
}

func (b *Box) init() error {
	b.once.Do(func() {
		if b.rand == nil {
			b.rand = rand.Reader
		}
		if _, err := io.ReadFull(b.rand, b.key[:]); err != nil {
			b.err = fmt.Errorf("generate key: %w", err)
		}
	})
	return b.err
}

// Seal шифрует plain и возвращает base64(nonce || ciphertext).
func (b *Box) Seal(plain []byte) (string, error) {
	if err := b.init(); err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(b.rand, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plain, &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open расшифровывает результат Seal.
func (b *Box) Open(sealed string) ([]byte, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(data) < nonceSize+secretbox.Overhead {
		return nil, ErrUndecryptable
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrUndecryptable
	}
	return plain, nil
}

// Set шифрует значение и записывает шифротекст в view.
func Set(view *scope.View, box *Box, key, plain string) error {
	sealed, err := box.Seal([]byte(plain))
	if err != nil {
		return err
	}
	view.Set(key, sealed)
	return nil
}

// Get читает и расшифровывает значение из view.
func Get(view *scope.View, box *Box, key string) (string, error) {
	sealed := view.String(key)
	if sealed == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	plain, err := box.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return string(plain), nil
}
