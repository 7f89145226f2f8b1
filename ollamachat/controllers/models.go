package controllers

import (
	"context"
	"errors"
	"fmt"

	"ollamachat/ollamachat/services/catalog"
	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

type ModelController struct {
	catalog   *catalog.Catalog
	sessions  *session.Manager
	validator validation.Validator
	logs      *logging.Loggers
}

func NewModelController(cat *catalog.Catalog, sessions *session.Manager, validator validation.Validator, logs *logging.Loggers) *ModelController {
	return &ModelController{catalog: cat, sessions: sessions, validator: validator, logs: logs}
}

type ModelsResponse struct {
	Models    []string `json:"models"`
	Installed []string `json:"installed"`
	Message   string   `json:"message"`
}

type ModelChangeResponse struct {
	Message string   `json:"message"`
	Models  []string `json:"models"`
}

// List returns the models the session can use. Engine failures are
// served as 500 here.
func (c *ModelController) List(ctx context.Context, sessionID string) (*ModelsResponse, error) {
	var resp *ModelsResponse
	err := c.sessions.View(ctx, sessionID, func(sess *session.Session) error {
		installed, err := c.catalog.ListInstalled(ctx)
		if err != nil {
			return err
		}
		available, err := c.catalog.Available(ctx, sess)
		if err != nil {
			return err
		}
		resp = &ModelsResponse{
			Models:    available,
			Installed: installed,
			Message:   fmt.Sprintf("Found %d available models", len(available)),
		}
		return nil
	})
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.EngineUnavailable {
		return nil, errs.Wrap(errs.Internal, e.Title, e.Message, e.Err)
	}
	return resp, err
}

// Available is the model list shown on the index page. It is empty when
// the engine cannot be reached.
func (c *ModelController) Available(ctx context.Context, sessionID string) []string {
	models := []string{}
	_ = c.sessions.View(ctx, sessionID, func(sess *session.Session) error {
		if got, err := c.catalog.Available(ctx, sess); err == nil {
			models = got
		}
		return nil
	})
	return models
}

func (c *ModelController) Add(ctx context.Context, sessionID string, in validation.Input) (*ModelChangeResponse, error) {
	return c.change(ctx, sessionID, in, c.catalog.AddUserModel)
}

func (c *ModelController) Remove(ctx context.Context, sessionID string, in validation.Input) (*ModelChangeResponse, error) {
	return c.change(ctx, sessionID, in, c.catalog.RemoveUserModel)
}

func (c *ModelController) change(ctx context.Context, sessionID string, in validation.Input,
	op func(context.Context, *session.Session, string) (string, error)) (*ModelChangeResponse, error) {
	if err := c.validator.Validate(in, "model_name"); err != nil {
		return nil, err
	}
	name := in.String("model_name")

	var resp *ModelChangeResponse
	err := c.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		msg, err := op(ctx, sess, name)
		if err != nil {
			return err
		}
		models, err := c.catalog.Available(ctx, sess)
		if err != nil {
			return err
		}
		resp = &ModelChangeResponse{Message: msg, Models: models}
		return nil
	})
	return resp, err
}
