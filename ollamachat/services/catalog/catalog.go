// ollamachat/services/catalog/catalog.go
package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

// Lister reports the models installed in the engine.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Catalog reconciles the engine's installed models with each session's
// user-added list. The installed list is the only authority on what can run.
type Catalog struct {
	lister    Lister
	validator validation.Validator
	ttl       time.Duration
	now       func() time.Time
	logs      *logging.Loggers

	mu       sync.Mutex
	cached   []string
	cachedAt time.Time
}

// New builds a Catalog. A zero ttl disables caching so every read queries
// the engine.
func New(lister Lister, validator validation.Validator, ttl time.Duration, logs *logging.Loggers) *Catalog {
	return &Catalog{
		lister:    lister,
		validator: validator,
		ttl:       ttl,
		now:       time.Now,
		logs:      logs,
	}
}

// ListInstalled returns the engine's installed models, served from the
// cache when it is enabled and fresh.
func (c *Catalog) ListInstalled(ctx context.Context) ([]string, error) {
	if c.ttl > 0 {
		c.mu.Lock()
		if c.cached != nil && c.now().Sub(c.cachedAt) < c.ttl {
			out := slices.Clone(c.cached)
			c.mu.Unlock()
			return out, nil
		}
		c.mu.Unlock()
	}
	return c.refresh(ctx)
}

func (c *Catalog) refresh(ctx context.Context) ([]string, error) {
	models, err := c.lister.ListModels(ctx)
	if err != nil {
		c.logs.Error.Error("listing installed models failed", zap.Error(err))
		return nil, err
	}
	if models == nil {
		models = []string{}
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.cached = slices.Clone(models)
		c.cachedAt = c.now()
		c.mu.Unlock()
	}
	return models, nil
}

// Invalidate drops the cached installed list.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// Available returns the installed models followed by the session's
// user-added models that are not already listed.
func (c *Catalog) Available(ctx context.Context, sess *session.Session) ([]string, error) {
	installed, err := c.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	return merge(installed, sess.UserModels), nil
}

func merge(installed, user []string) []string {
	out := slices.Clone(installed)
	for _, m := range user {
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

// AddUserModel adds name to the session's list after confirming the engine
// has it installed. It returns a confirmation message.
func (c *Catalog) AddUserModel(ctx context.Context, sess *session.Session, name string) (string, error) {
	if err := c.validator.ModelName(name); err != nil {
		return "", err
	}
	installed, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	if !slices.Contains(installed, name) {
		return "", errs.New(errs.ModelNotInstalled, "Model not installed",
			fmt.Sprintf("Model '%s' not found in Ollama. Please pull the model first with: ollama pull %s", name, name))
	}
	if sess.HasUserModel(name) {
		return "", errs.New(errs.AlreadyExists, "Model already added",
			fmt.Sprintf("Model '%s' is already in your list.", name))
	}
	sess.UserModels = append(sess.UserModels, name)
	sess.MarkDirty()
	c.logs.App.Info("added custom model", zap.String("model", name), logging.SessionField(sess.ID))
	return fmt.Sprintf("Successfully added model '%s'", name), nil
}

// RemoveUserModel drops name from the session's list. Installed models are
// never touched, and nothing is removed while the engine has only one
// model installed.
func (c *Catalog) RemoveUserModel(ctx context.Context, sess *session.Session, name string) (string, error) {
	installed, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	if len(installed) == 1 {
		return "", errs.New(errs.LastModelProtected, "Cannot remove model",
			"Cannot remove model while only one model is installed.")
	}
	i := slices.Index(sess.UserModels, name)
	if i < 0 {
		return "", errs.New(errs.NotFound, "Model not found",
			fmt.Sprintf("Model '%s' not found in your custom models.", name))
	}
	sess.UserModels = slices.Delete(sess.UserModels, i, i+1)
	sess.MarkDirty()
	c.logs.App.Info("removed custom model", zap.String("model", name), logging.SessionField(sess.ID))
	return fmt.Sprintf("Successfully removed model '%s'", name), nil
}
