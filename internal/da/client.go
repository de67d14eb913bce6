// Package da is the client for the remote design-automation execution
// engine: app bundle and activity registration, work-item submission and
// status queries, and the translation from generic arguments to the
// engine's work-item contract.
package da

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/drafterd/drafter/internal/policy"
	"github.com/drafterd/drafter/internal/remote"
)

// ErrArtifactMissing is returned when a template's app bundle package is not
// available. Expected outside production; bootstrap logs it as a skip.
var ErrArtifactMissing = errors.New("required artifact package missing")

// Work-item status values reported by the engine.
const (
	WorkItemPending    = "pending"
	WorkItemInProgress = "inprogress"
	WorkItemSuccess    = "success"
	WorkItemFailed     = "failed"
	WorkItemCancelled  = "cancelled"
)

// aliasLabel is the alias both bundles and activities are published under.
const aliasLabel = "prod"

// WorkItemStatus is the engine's view of a submitted work item.
type WorkItemStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl,omitempty"`
}

// TerminalStatus reports whether an engine status will never change again.
func TerminalStatus(status string) bool {
	switch status {
	case WorkItemSuccess, WorkItemFailed, WorkItemCancelled:
		return true
	}
	return false
}

type bundleRequest struct {
	ID          string `json:"id,omitempty"`
	Engine      string `json:"engine"`
	Description string `json:"description,omitempty"`
}

type bundleResponse struct {
	ID               string            `json:"id"`
	Version          int               `json:"version"`
	UploadParameters *uploadParameters `json:"uploadParameters,omitempty"`
}

type uploadParameters struct {
	EndpointURL string `json:"endpointURL"`
}

type activityRequest struct {
	ID          string   `json:"id,omitempty"`
	Engine      string   `json:"engine"`
	CommandLine []string `json:"commandLine"`
	AppBundles  []string `json:"appbundles"`
	Description string   `json:"description,omitempty"`
}

type aliasRequest struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

type workItemRequest struct {
	ActivityID string           `json:"activityId"`
	Inputs     []WorkItemInput  `json:"inputs"`
	Outputs    []WorkItemOutput `json:"outputs"`
}

type workItemResponse struct {
	ID string `json:"id"`
}

type webhookRequest struct {
	CallbackURL string `json:"callbackUrl"`
	Event       string `json:"event"`
}

// Client wraps the execution-engine API. All calls run through the
// resiliency policy chain; package uploads go straight to the signed
// endpoint the engine hands back.
type Client struct {
	api    *remote.Client
	httpc  *http.Client
	chain  *policy.Chain
	logger *slog.Logger
}

// NewClient creates an engine client routing calls through chain.
func NewClient(api *remote.Client, chain *policy.Chain, logger *slog.Logger) *Client {
	return &Client{
		api:    api,
		httpc:  &http.Client{Timeout: 5 * time.Minute},
		chain:  chain,
		logger: logger,
	}
}

// RegisterTemplate creates or updates the template's remote bundle and
// activity and publishes both under the prod alias. A locally missing
// bundle package is reported as ErrArtifactMissing.
func (c *Client) RegisterTemplate(ctx context.Context, t Template) error {
	pkg, err := os.Open(t.Package)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, t.Package)
	}
	if err != nil {
		return fmt.Errorf("open bundle package %s: %w", t.Package, err)
	}
	defer pkg.Close()

	version, uploadURL, err := c.upsertBundle(ctx, t)
	if err != nil {
		return err
	}
	if uploadURL != "" {
		if err := c.uploadPackage(ctx, uploadURL, pkg); err != nil {
			return fmt.Errorf("upload bundle package %s: %w", t.Package, err)
		}
	}
	if err := c.upsertAlias(ctx, "/appbundles/"+url.PathEscape(t.Name)+"/aliases", version); err != nil {
		return fmt.Errorf("publish bundle alias for %s: %w", t.Name, err)
	}

	version, err = c.upsertActivity(ctx, t)
	if err != nil {
		return err
	}
	if err := c.upsertAlias(ctx, "/activities/"+url.PathEscape(t.Name)+"/aliases", version); err != nil {
		return fmt.Errorf("publish activity alias for %s: %w", t.Name, err)
	}
	return nil
}

// upsertBundle creates the app bundle, or appends a new version when it
// already exists. Returns the registered version and the package upload URL.
func (c *Client) upsertBundle(ctx context.Context, t Template) (int, string, error) {
	req := bundleRequest{ID: t.Name, Engine: t.Engine, Description: t.Description}

	var out bundleResponse
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPost, "/appbundles", nil, req, &out)
	})
	if remote.IsConflict(err) {
		req.ID = ""
		err = c.chain.Do(ctx, func(ctx context.Context) error {
			return c.api.DoJSON(ctx, http.MethodPost, "/appbundles/"+url.PathEscape(t.Name)+"/versions", nil, req, &out)
		})
	}
	if err != nil {
		return 0, "", fmt.Errorf("register bundle %s: %w", t.Name, err)
	}

	uploadURL := ""
	if out.UploadParameters != nil {
		uploadURL = out.UploadParameters.EndpointURL
	}
	return out.Version, uploadURL, nil
}

// uploadPackage PUTs the bundle archive to the engine-issued signed URL.
// The URL is pre-authorized; no bearer token is attached.
func (c *Client) uploadPackage(ctx context.Context, uploadURL string, pkg io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, pkg)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &remote.APIError{StatusCode: resp.StatusCode, Body: "package upload rejected"}
	}
	return nil
}

func (c *Client) upsertActivity(ctx context.Context, t Template) (int, error) {
	req := activityRequest{
		ID:          t.Name,
		Engine:      t.Engine,
		CommandLine: t.CommandLine,
		AppBundles:  []string{t.Name + "+" + aliasLabel},
		Description: t.Description,
	}

	var out struct {
		Version int `json:"version"`
	}
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPost, "/activities", nil, req, &out)
	})
	if remote.IsConflict(err) {
		req.ID = ""
		err = c.chain.Do(ctx, func(ctx context.Context) error {
			return c.api.DoJSON(ctx, http.MethodPost, "/activities/"+url.PathEscape(t.Name)+"/versions", nil, req, &out)
		})
	}
	if err != nil {
		return 0, fmt.Errorf("register activity %s: %w", t.Name, err)
	}
	return out.Version, nil
}

// upsertAlias points the prod alias at version, creating it when absent.
func (c *Client) upsertAlias(ctx context.Context, basePath string, version int) error {
	req := aliasRequest{ID: aliasLabel, Version: version}

	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPost, basePath, nil, req, nil)
	})
	if remote.IsConflict(err) {
		err = c.chain.Do(ctx, func(ctx context.Context) error {
			return c.api.DoJSON(ctx, http.MethodPatch, basePath+"/"+aliasLabel, nil, req, nil)
		})
	}
	return err
}

// DeleteTemplate removes the template's remote activity and bundle.
// Already-deleted resources are not an error.
func (c *Client) DeleteTemplate(ctx context.Context, t Template) error {
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodDelete, "/activities/"+url.PathEscape(t.Name), nil, nil, nil)
	})
	if err != nil && !remote.IsNotFound(err) {
		return fmt.Errorf("delete activity %s: %w", t.Name, err)
	}

	err = c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodDelete, "/appbundles/"+url.PathEscape(t.Name), nil, nil, nil)
	})
	if err != nil && !remote.IsNotFound(err) {
		return fmt.Errorf("delete bundle %s: %w", t.Name, err)
	}
	return nil
}

// SubmitWorkItem posts a work item for the named activity and returns the
// engine-assigned id.
func (c *Client) SubmitWorkItem(ctx context.Context, activity string, def WorkItemDefinition) (string, error) {
	req := workItemRequest{
		ActivityID: activity + "+" + aliasLabel,
		Inputs:     def.Inputs,
		Outputs:    def.Outputs,
	}

	var out workItemResponse
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPost, "/workitems", nil, req, &out)
	})
	if err != nil {
		return "", fmt.Errorf("submit work item for %s: %w", activity, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("submit work item for %s: empty id in response", activity)
	}
	return out.ID, nil
}

// WorkItemStatus queries a submitted work item by id.
func (c *Client) WorkItemStatus(ctx context.Context, id string) (WorkItemStatus, error) {
	var out WorkItemStatus
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodGet, "/workitems/"+url.PathEscape(id), nil, nil, &out)
	})
	if err != nil {
		return WorkItemStatus{}, fmt.Errorf("work item status %s: %w", id, err)
	}
	return out, nil
}

// RegisterCallback subscribes callbackURL to terminal work-item
// notifications for push-based completion detection.
func (c *Client) RegisterCallback(ctx context.Context, callbackURL string) error {
	req := webhookRequest{CallbackURL: callbackURL, Event: "workitem.completed"}

	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPost, "/hooks", nil, req, nil)
	})
	if err != nil && !remote.IsConflict(err) {
		return fmt.Errorf("register callback: %w", err)
	}
	return nil
}
