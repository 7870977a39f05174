// Package cli holds operator subcommands for the guardpost binary.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/grants"
	"github.com/guardpost/guardpost/internal/shared"
)

// SeedFile is the YAML document consumed by the seed subcommand.
type SeedFile struct {
	GuardNamespace string           `yaml:"guard_namespace"`
	Permissions    []SeedPermission `yaml:"permissions"`
	Roles          []SeedRole       `yaml:"roles"`
	DataScopes     []SeedDataScope  `yaml:"data_scopes"`
}

// SeedPermission declares one general permission.
type SeedPermission struct {
	Slug        string            `yaml:"slug"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Metadata    map[string]string `yaml:"metadata"`
}

// SeedRole declares one role and the permission slugs it carries.
type SeedRole struct {
	Slug        string   `yaml:"slug"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// SeedDataScope declares one data scope.
type SeedDataScope struct {
	Slug   string              `yaml:"slug"`
	Name   string              `yaml:"name"`
	Type   catalog.ScopeType   `yaml:"type"`
	Config catalog.ScopeConfig `yaml:"config"`
}

// Seeder provisions catalog entries and role grants from a seed file. Every
// step is idempotent so the command can run on each deploy.
type Seeder struct {
	Catalog *catalog.Repository
	Graph   *grants.Repository
	Logger  *slog.Logger
}

// Run loads the seed file and applies it. The built-in management permissions
// are always included so a fresh database can bootstrap an admin role.
func (s *Seeder) Run(ctx context.Context, path, defaultGuard string) error {
	var file SeedFile
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("seed: read file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("seed: parse file: %w", err)
		}
	}
	guard := file.GuardNamespace
	if guard == "" {
		guard = defaultGuard
	}
	if guard == "" {
		return fmt.Errorf("seed: guard namespace required")
	}

	if err := s.seedPermissions(ctx, guard, file.Permissions); err != nil {
		return err
	}
	if err := s.seedDataScopes(ctx, file.DataScopes); err != nil {
		return err
	}
	return s.seedRoles(ctx, guard, file.Roles)
}

func builtinPermissions() []SeedPermission {
	slugs := []string{
		shared.PermGrantsView,
		shared.PermGrantsManage,
		shared.PermCatalogView,
		shared.PermCatalogManage,
		shared.PermAuditView,
		shared.PermCacheFlush,
	}
	perms := make([]SeedPermission, 0, len(slugs))
	for _, slug := range slugs {
		perms = append(perms, SeedPermission{Slug: slug, Name: slug})
	}
	return perms
}

func (s *Seeder) seedPermissions(ctx context.Context, guard string, declared []SeedPermission) error {
	var perms []catalog.Permission
	seen := make(map[string]struct{})
	for _, sp := range append(builtinPermissions(), declared...) {
		slug := strings.TrimSpace(strings.ToLower(sp.Slug))
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		name := sp.Name
		if name == "" {
			name = slug
		}
		perms = append(perms, catalog.Permission{
			Slug:           slug,
			GuardNamespace: guard,
			Name:           name,
			Description:    sp.Description,
			Metadata:       sp.Metadata,
		})
	}
	if err := s.Catalog.InsertPermissions(ctx, perms); err != nil {
		return fmt.Errorf("seed: permissions: %w", err)
	}
	s.Logger.Info("seeded permissions", slog.Int("count", len(perms)))
	return nil
}

func (s *Seeder) seedDataScopes(ctx context.Context, declared []SeedDataScope) error {
	if len(declared) == 0 {
		return nil
	}
	existing, err := s.Catalog.ListDataScopes(ctx)
	if err != nil {
		return fmt.Errorf("seed: list data scopes: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, ds := range existing {
		known[ds.Slug] = struct{}{}
	}
	created := 0
	for _, sd := range declared {
		slug := strings.TrimSpace(strings.ToLower(sd.Slug))
		if slug == "" {
			continue
		}
		if _, ok := known[slug]; ok {
			continue
		}
		name := sd.Name
		if name == "" {
			name = slug
		}
		if _, err := s.Catalog.CreateDataScope(ctx, catalog.DataScope{
			Slug:   slug,
			Name:   name,
			Type:   sd.Type,
			Config: sd.Config,
		}); err != nil {
			return fmt.Errorf("seed: data scope %s: %w", slug, err)
		}
		created++
	}
	s.Logger.Info("seeded data scopes", slog.Int("created", created))
	return nil
}

func (s *Seeder) seedRoles(ctx context.Context, guard string, declared []SeedRole) error {
	if len(declared) == 0 {
		return nil
	}
	existing, err := s.Catalog.ListRoles(ctx, guard)
	if err != nil {
		return fmt.Errorf("seed: list roles: %w", err)
	}
	bySlug := make(map[string]catalog.Role, len(existing))
	for _, role := range existing {
		bySlug[role.Slug] = role
	}
	for _, sr := range declared {
		slug := strings.TrimSpace(strings.ToLower(sr.Slug))
		if slug == "" {
			continue
		}
		role, ok := bySlug[slug]
		if !ok {
			name := sr.Name
			if name == "" {
				name = slug
			}
			role, err = s.Catalog.CreateRole(ctx, catalog.Role{
				Slug:           slug,
				GuardNamespace: guard,
				Name:           name,
				Description:    sr.Description,
				Enabled:        true,
			})
			if err != nil {
				return fmt.Errorf("seed: role %s: %w", slug, err)
			}
		}
		if err := s.attachRolePermissions(ctx, guard, role, sr.Permissions); err != nil {
			return err
		}
	}
	s.Logger.Info("seeded roles", slog.Int("count", len(declared)))
	return nil
}

func (s *Seeder) attachRolePermissions(ctx context.Context, guard string, role catalog.Role, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		slug = strings.TrimSpace(strings.ToLower(slug))
		if slug != "" {
			normalized = append(normalized, slug)
		}
	}
	perms, err := s.Catalog.GeneralBySlugs(ctx, guard, normalized)
	if err != nil {
		return fmt.Errorf("seed: role %s permissions: %w", role.Slug, err)
	}
	ids := make([]int64, 0, len(normalized))
	for _, slug := range normalized {
		perm, ok := perms[slug]
		if !ok {
			return fmt.Errorf("seed: role %s references unknown permission %s", role.Slug, slug)
		}
		ids = append(ids, perm.ID)
	}
	return s.Graph.WithTx(ctx, func(ctx context.Context, tx grants.TxGraph) error {
		return tx.AttachRolePermissions(ctx, role.ID, ids)
	})
}
