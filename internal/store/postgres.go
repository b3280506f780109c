package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

// Postgres implements Store on top of a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const instanceColumns = `i.id, i.workspace_id, i.region, i.status_version, i.ide_url, i.creation_time,
	i.deployed_time, i.started_time, i.stopping_time, i.stopped_time, i.status`

func scanInstance(row pgx.Row, extra ...any) (*core.WorkspaceInstance, error) {
	var (
		inst    core.WorkspaceInstance
		version int64
		status  []byte
	)
	dest := []any{
		&inst.ID, &inst.WorkspaceID, &inst.Region, &version, &inst.IDEURL, &inst.CreationTime,
		&inst.DeployedTime, &inst.StartedTime, &inst.StoppingTime, &inst.StoppedTime, &status,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	inst.StatusVersion = uint64(version)
	if err := json.Unmarshal(status, &inst.Status); err != nil {
		return nil, fmt.Errorf("decode status of %s: %w", inst.ID, err)
	}
	return &inst, nil
}

func (p *Postgres) FindInstanceByID(ctx context.Context, id string) (*core.WorkspaceInstance, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM workspace_instances i WHERE i.id = $1`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find instance %s: %w", id, err)
	}
	return inst, nil
}

func (p *Postgres) FindRunningInstances(ctx context.Context, region string) ([]core.RunningInstance, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+instanceColumns+`, w.id, w.owner_id, w.type, w.project_id
		FROM workspace_instances i
		JOIN workspaces w ON w.id = i.workspace_id
		WHERE i.phase <> 'stopped' AND ($1 = '' OR i.region = $1)
		ORDER BY i.id`, region)
	if err != nil {
		return nil, fmt.Errorf("find running instances: %w", err)
	}
	defer rows.Close()

	var out []core.RunningInstance
	for rows.Next() {
		var ws core.Workspace
		inst, err := scanInstance(rows, &ws.ID, &ws.OwnerID, &ws.Type, &ws.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("scan running instance: %w", err)
		}
		out = append(out, core.RunningInstance{Workspace: ws, Instance: inst})
	}
	return out, rows.Err()
}

func (p *Postgres) CountRunningInstances(ctx context.Context, region string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM workspace_instances
		WHERE phase <> 'stopped' AND ($1 = '' OR region = $1)`, region).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running instances: %w", err)
	}
	return n, nil
}

func (p *Postgres) StoreInstance(ctx context.Context, inst *core.WorkspaceInstance) error {
	status, err := json.Marshal(inst.Status)
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", inst.ID, err)
	}
	creation := inst.CreationTime
	if creation.IsZero() {
		creation = time.Now()
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workspace_instances
			(id, workspace_id, region, status_version, phase, ide_url, creation_time,
			 deployed_time, started_time, stopping_time, stopped_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			region = EXCLUDED.region,
			status_version = EXCLUDED.status_version,
			phase = EXCLUDED.phase,
			ide_url = EXCLUDED.ide_url,
			deployed_time = EXCLUDED.deployed_time,
			started_time = EXCLUDED.started_time,
			stopping_time = EXCLUDED.stopping_time,
			stopped_time = EXCLUDED.stopped_time,
			status = EXCLUDED.status`,
		inst.ID, inst.WorkspaceID, inst.Region, int64(inst.StatusVersion), string(inst.Status.Phase),
		inst.IDEURL, creation, inst.DeployedTime, inst.StartedTime, inst.StoppingTime,
		inst.StoppedTime, status)
	if err != nil {
		return fmt.Errorf("store instance %s: %w", inst.ID, err)
	}
	return nil
}

func (p *Postgres) StoreWorkspace(ctx context.Context, ws core.Workspace) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO workspaces (id, owner_id, type, project_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id, type = EXCLUDED.type, project_id = EXCLUDED.project_id`,
		ws.ID, ws.OwnerID, string(ws.Type), ws.ProjectID)
	if err != nil {
		return fmt.Errorf("store workspace %s: %w", ws.ID, err)
	}
	return nil
}

const clusterColumns = `name, url, tls, region, state, score, max_score, govern, application_cluster,
	admission_constraints, available_workspace_classes, preferred_workspace_class`

func scanCluster(row pgx.Row) (*core.WorkspaceCluster, error) {
	var (
		c                         core.WorkspaceCluster
		tls, constraints, classes []byte
	)
	err := row.Scan(&c.Name, &c.URL, &tls, &c.Region, &c.State, &c.Score, &c.MaxScore, &c.Govern,
		&c.ApplicationCluster, &constraints, &classes, &c.PreferredWorkspaceClass)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tls, &c.TLS); err != nil {
		return nil, fmt.Errorf("decode tls of %s: %w", c.Name, err)
	}
	if err := json.Unmarshal(constraints, &c.AdmissionConstraints); err != nil {
		return nil, fmt.Errorf("decode constraints of %s: %w", c.Name, err)
	}
	if err := json.Unmarshal(classes, &c.AvailableWorkspaceClasses); err != nil {
		return nil, fmt.Errorf("decode classes of %s: %w", c.Name, err)
	}
	return &c, nil
}

func (p *Postgres) FindClusterByName(ctx context.Context, name string) (*core.WorkspaceCluster, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM workspace_clusters WHERE name = $1`, name)
	c, err := scanCluster(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find cluster %s: %w", name, err)
	}
	return c, nil
}

func (p *Postgres) FindClusters(ctx context.Context, f ClusterFilter) ([]core.WorkspaceCluster, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+clusterColumns+` FROM workspace_clusters
		WHERE ($1 = '' OR state = $1)
		  AND ($2::boolean IS NULL OR govern = $2)
		  AND ($3 = '' OR application_cluster = $3)
		  AND ($4 = '' OR url = $4)
		ORDER BY name`, string(f.State), f.Govern, f.ApplicationCluster, f.URL)
	if err != nil {
		return nil, fmt.Errorf("find clusters: %w", err)
	}
	defer rows.Close()

	var out []core.WorkspaceCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveCluster(ctx context.Context, c core.WorkspaceCluster) error {
	tls, err := json.Marshal(c.TLS)
	if err != nil {
		return err
	}
	constraints, err := json.Marshal(nonNil(c.AdmissionConstraints))
	if err != nil {
		return err
	}
	classes, err := json.Marshal(nonNil(c.AvailableWorkspaceClasses))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workspace_clusters (`+clusterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (name) DO UPDATE SET
			url = EXCLUDED.url,
			tls = EXCLUDED.tls,
			region = EXCLUDED.region,
			state = EXCLUDED.state,
			score = EXCLUDED.score,
			max_score = EXCLUDED.max_score,
			govern = EXCLUDED.govern,
			application_cluster = EXCLUDED.application_cluster,
			admission_constraints = EXCLUDED.admission_constraints,
			available_workspace_classes = EXCLUDED.available_workspace_classes,
			preferred_workspace_class = EXCLUDED.preferred_workspace_class,
			updated_at = now()`,
		c.Name, c.URL, tls, c.Region, string(c.State), c.Score, c.MaxScore, c.Govern,
		c.ApplicationCluster, constraints, classes, c.PreferredWorkspaceClass)
	if err != nil {
		return fmt.Errorf("save cluster %s: %w", c.Name, err)
	}
	return nil
}

func (p *Postgres) UpdateClusterClasses(ctx context.Context, name string, classes []core.WorkspaceClass, preferred string) error {
	b, err := json.Marshal(nonNil(classes))
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE workspace_clusters
		SET available_workspace_classes = $2, preferred_workspace_class = $3, updated_at = now()
		WHERE name = $1`, name, b, preferred)
	if err != nil {
		return fmt.Errorf("update classes of %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteClusterByName(ctx context.Context, name string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM workspace_clusters WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete cluster %s: %w", name, err)
	}
	return nil
}

const prebuildColumns = `id, project_id, branch, build_workspace_id, state, error, snapshot, status_version, creation_time`

func (p *Postgres) FindPrebuildByWorkspaceID(ctx context.Context, workspaceID string) (*core.PrebuiltWorkspace, error) {
	var (
		pb      core.PrebuiltWorkspace
		version int64
	)
	err := p.pool.QueryRow(ctx, `SELECT `+prebuildColumns+` FROM prebuilt_workspaces WHERE build_workspace_id = $1`,
		workspaceID).Scan(&pb.ID, &pb.ProjectID, &pb.Branch, &pb.BuildWorkspaceID, &pb.State, &pb.Error,
		&pb.Snapshot, &version, &pb.CreationTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find prebuild for workspace %s: %w", workspaceID, err)
	}
	pb.StatusVersion = uint64(version)
	return &pb, nil
}

func (p *Postgres) StorePrebuild(ctx context.Context, pb *core.PrebuiltWorkspace) error {
	creation := pb.CreationTime
	if creation.IsZero() {
		creation = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO prebuilt_workspaces (`+prebuildColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			snapshot = EXCLUDED.snapshot,
			status_version = EXCLUDED.status_version`,
		pb.ID, pb.ProjectID, pb.Branch, pb.BuildWorkspaceID, string(pb.State), pb.Error, pb.Snapshot,
		int64(pb.StatusVersion), creation)
	if err != nil {
		return fmt.Errorf("store prebuild %s: %w", pb.ID, err)
	}
	return nil
}

func (p *Postgres) FindPrebuildInfo(ctx context.Context, prebuildID string) (*core.PrebuildInfo, error) {
	var info core.PrebuildInfo
	err := p.pool.QueryRow(ctx, `
		SELECT id, project_id, branch, build_workspace_id, creation_time
		FROM prebuilt_workspaces WHERE id = $1`, prebuildID).
		Scan(&info.ID, &info.ProjectID, &info.Branch, &info.BuildWorkspaceID, &info.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find prebuild info %s: %w", prebuildID, err)
	}
	return &info, nil
}

func (p *Postgres) StoreToken(ctx context.Context, t Token) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tokens (hash, user_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name`,
		t.Hash, t.UserID, t.Name)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTokensNamedLike(ctx context.Context, userID, pattern string) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM tokens WHERE user_id = $1 AND name LIKE $2`, userID, pattern)
	if err != nil {
		return 0, fmt.Errorf("delete tokens like %q: %w", pattern, err)
	}
	return tag.RowsAffected(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
