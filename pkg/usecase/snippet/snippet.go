package snippet

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/model"
	"github.com/m-mizutani/memoria/pkg/utils/logging"
)

const keyPrefix = "snippets/"

var ErrInvalidName = goerr.New("invalid snippet name")

// UseCase stores named snippets as objects in a bucket
type UseCase struct {
	storage adapter.Storage
}

func New(storage adapter.Storage) *UseCase {
	return &UseCase{storage: storage}
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return goerr.Wrap(ErrInvalidName, "snippet name must be non-empty without '/' or '..'", goerr.V("name", name))
	}
	return nil
}

// Key returns the object key for a snippet name
func Key(name string) string {
	return keyPrefix + name + ".json"
}

func (uc *UseCase) Save(ctx context.Context, name, body string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if uc.storage == nil {
		return goerr.Wrap(model.ErrConfiguration, "storage is not configured")
	}

	w, err := uc.storage.Put(ctx, Key(name))
	if err != nil {
		return goerr.Wrap(err, "failed to open snippet writer", goerr.V("name", name))
	}
	if _, err := io.Copy(w, strings.NewReader(body)); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write snippet", goerr.V("name", name))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit snippet", goerr.V("name", name))
	}

	logging.From(ctx).Info("saved snippet", "name", name, "size", len(body))
	return nil
}

func (uc *UseCase) Get(ctx context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if uc.storage == nil {
		return "", goerr.Wrap(model.ErrConfiguration, "storage is not configured")
	}

	r, err := uc.storage.Get(ctx, Key(name))
	if err != nil {
		return "", err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", goerr.Wrap(err, "failed to read snippet", goerr.V("name", name))
	}
	return buf.String(), nil
}
