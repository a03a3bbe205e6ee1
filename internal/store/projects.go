package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Projects is the repository for project registry rows.
type Projects struct{ s *Store }

func (s *Store) Projects() *Projects { return &Projects{s} }

// EnsureProject returns the project for rootPath, auto-creating one (and
// writing .gobby/project.json is the caller's responsibility) if none
// exists yet. This backs §4.2.2 "auto-initializing a project if no
// .gobby/project.json is found".
func (p *Projects) EnsureProject(id, name, rootPath string) (*Project, error) {
	if id == "" {
		if rootPath != "" {
			var existing string
			err := p.s.db.QueryRow(`SELECT id FROM projects WHERE root_path = ? ORDER BY created_at LIMIT 1`, rootPath).Scan(&existing)
			if err == nil {
				return p.Get(existing)
			}
			if err != sql.ErrNoRows {
				return nil, fmt.Errorf("ensuring project: %w", err)
			}
		}
		id = uuid.NewString()
	}
	_, err := p.s.db.Exec(
		`INSERT INTO projects (id, name, root_path) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET root_path = excluded.root_path`,
		id, name, rootPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring project: %w", err)
	}
	return p.Get(id)
}

// Get fetches a project by ID.
func (p *Projects) Get(id string) (*Project, error) {
	row := p.s.db.QueryRow(`SELECT id, name, root_path, hidden FROM projects WHERE id = ?`, id)
	proj := &Project{}
	var hidden int
	if err := row.Scan(&proj.ID, &proj.Name, &proj.RootPath, &hidden); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "project", ID: id}
		}
		return nil, err
	}
	proj.Hidden = hidden != 0
	return proj, nil
}

// List returns all non-hidden projects; _personal renders as "Personal"
// and _orphaned/_migrated never appear (spec.md §3.1, §6.3).
func (p *Projects) List() ([]*Project, error) {
	rows, err := p.s.db.Query(`SELECT id, name, root_path, hidden FROM projects WHERE hidden = 0 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		proj := &Project{}
		var hidden int
		if err := rows.Scan(&proj.ID, &proj.Name, &proj.RootPath, &hidden); err != nil {
			return nil, err
		}
		proj.Hidden = hidden != 0
		out = append(out, proj)
	}
	return out, rows.Err()
}

// Delete removes a project. _orphaned and _migrated are undeletable (403
// at the HTTP boundary); this method enforces the same rule at the store.
func (p *Projects) Delete(id string) error {
	if id == ReservedProjectOrphaned || id == ReservedProjectMigrated || id == ReservedProjectPersonal {
		return &ConflictError{Reason: fmt.Sprintf("project %q is a reserved system project", id)}
	}
	res, err := p.s.db.Exec(`DELETE FROM projects WHERE id = ? AND hidden = 0`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &NotFoundError{Entity: "project", ID: id}
	}
	p.s.notify(Change{Entity: "project", ID: id, Op: "delete"})
	return nil
}

// Update renames a project or changes its root path.
func (p *Projects) Update(id string, name, rootPath *string) (*Project, error) {
	if id == ReservedProjectOrphaned || id == ReservedProjectMigrated {
		return nil, &ConflictError{Reason: fmt.Sprintf("project %q is a reserved system project", id)}
	}
	cur, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		cur.Name = *name
	}
	if rootPath != nil {
		cur.RootPath = *rootPath
	}
	_, err = p.s.db.Exec(`UPDATE projects SET name = ?, root_path = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cur.Name, cur.RootPath, id)
	if err != nil {
		return nil, err
	}
	p.s.notify(Change{Entity: "project", ID: id, Op: "update"})
	return cur, nil
}
