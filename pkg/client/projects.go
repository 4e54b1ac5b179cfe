// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ProjectClient provides access to project management operations.
//
// Access this client through [Client.Projects].
type ProjectClient struct {
	c *Client
}

// List returns all projects.
func (p *ProjectClient) List(ctx context.Context) ([]Project, error) {
	data, _, err := p.c.get(ctx, "/api/v1/projects")
	if err != nil {
		return nil, err
	}
	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse projects: %w", err)
	}
	return projects, nil
}

// Create creates a new, empty project.
func (p *ProjectClient) Create(ctx context.Context, name string) (*Project, error) {
	data, _, err := p.c.postJSON(ctx, "/api/v1/projects", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	var proj Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	return &proj, nil
}

// Get returns a project together with its session summaries.
func (p *ProjectClient) Get(ctx context.Context, name string) (*ProjectDetail, error) {
	data, _, err := p.c.get(ctx, "/api/v1/projects/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}
	var detail ProjectDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	return &detail, nil
}

// Delete removes a project and every session in it.
func (p *ProjectClient) Delete(ctx context.Context, name string) error {
	_, _, err := p.c.delete(ctx, "/api/v1/projects/"+url.PathEscape(name))
	return err
}
