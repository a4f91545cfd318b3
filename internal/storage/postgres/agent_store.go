package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// AgentStore implements storage.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *Pool
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(pool *Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AgentStore = (*AgentStore)(nil)

const agentColumns = `
	agent_id, creator, name, symbol, created_at, graduated,
	virtual_sol_reserves, virtual_token_reserves, real_sol_reserves, real_token_reserves,
	graduation_threshold, bonding_curve_supply, total_supply
`

// Insert adds a new agent. Returns ErrDuplicateKey if agent_id exists.
func (s *AgentStore) Insert(ctx context.Context, a *domain.Agent) error {
	query := `
		INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		a.AgentID, a.Creator, a.Name, a.Symbol, a.CreatedAt, a.Graduated,
		int64(a.Curve.VirtualSolReserves), int64(a.Curve.VirtualTokenReserves),
		int64(a.Curve.RealSolReserves), int64(a.Curve.RealTokenReserves),
		int64(a.Curve.GraduationThreshold), int64(a.Curve.BondingCurveSupply), int64(a.Curve.TotalSupply),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// Get retrieves an agent. Returns ErrNotFound if not exists.
func (s *AgentStore) Get(ctx context.Context, agentID string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE agent_id = $1`

	a, err := scanAgent(s.pool.QueryRow(ctx, query, agentID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// Update replaces an agent's mutable state. Returns ErrNotFound if not exists.
func (s *AgentStore) Update(ctx context.Context, a *domain.Agent) error {
	query := `
		UPDATE agents SET
			graduated = $2,
			virtual_sol_reserves = $3,
			virtual_token_reserves = $4,
			real_sol_reserves = $5,
			real_token_reserves = $6
		WHERE agent_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		a.AgentID, a.Graduated,
		int64(a.Curve.VirtualSolReserves), int64(a.Curve.VirtualTokenReserves),
		int64(a.Curve.RealSolReserves), int64(a.Curve.RealTokenReserves),
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves all agents, ordered by agent ID.
func (s *AgentStore) List(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY agent_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return agents, nil
}

// scanAgent scans one row into an Agent. Reserve columns are stored as BIGINT
// and converted back to uint64.
func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	var vsol, vtok, rsol, rtok, threshold, curveSupply, supply int64

	err := row.Scan(
		&a.AgentID, &a.Creator, &a.Name, &a.Symbol, &a.CreatedAt, &a.Graduated,
		&vsol, &vtok, &rsol, &rtok, &threshold, &curveSupply, &supply,
	)
	if err != nil {
		return nil, err
	}

	a.Curve = domain.CurveState{
		VirtualSolReserves:   uint64(vsol),
		VirtualTokenReserves: uint64(vtok),
		RealSolReserves:      uint64(rsol),
		RealTokenReserves:    uint64(rtok),
		GraduationThreshold:  uint64(threshold),
		BondingCurveSupply:   uint64(curveSupply),
		TotalSupply:          uint64(supply),
	}
	return &a, nil
}
