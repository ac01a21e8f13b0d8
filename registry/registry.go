package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"election-ledger/models"
)

var (
	ErrVoterNotFound     = errors.New("voter not found")
	ErrVoterInactive     = errors.New("voter is inactive")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrVoterExists       = errors.New("voter already registered")
	ErrCandidateExists   = errors.New("candidate already exists")
	ErrInvalidEntry      = errors.New("invalid roll entry")
)

// Roll is the read side of the voter roll the vote-casting path depends on.
type Roll interface {
	GetVoter(voterID string) (*models.Voter, error)
	GetCandidate(id int) (*models.Candidate, error)
	CandidatesByConstituency(constituency string) []models.Candidate
	AllCandidates() []models.Candidate
}

type Config struct {
	RollFilePath string `json:"roll_file_path"`
}

// FileRoll is a Roll loaded from a JSON file.
type FileRoll struct {
	mu         sync.RWMutex
	voters     map[string]*models.Voter
	candidates map[int]*models.Candidate
	config     Config
}

type rollFile struct {
	Voters     []*models.Voter     `json:"voters"`
	Candidates []*models.Candidate `json:"candidates"`
}

// NewFileRoll loads the roll file, writing the default roll first if it is missing.
func NewFileRoll(config Config) (*FileRoll, error) {
	r := &FileRoll{
		voters:     make(map[string]*models.Voter),
		candidates: make(map[int]*models.Candidate),
		config:     config,
	}

	if err := os.MkdirAll(filepath.Dir(config.RollFilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRoll) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.config.RollFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return r.createDefaultRollFile()
		}
		return fmt.Errorf("failed to read roll file: %w", err)
	}

	var rf rollFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("failed to unmarshal roll: %w", err)
	}
	return r.index(rf)
}

func (r *FileRoll) index(rf rollFile) error {
	voters := make(map[string]*models.Voter, len(rf.Voters))
	for _, v := range rf.Voters {
		if err := validateVoter(v); err != nil {
			return fmt.Errorf("invalid voter %q: %w", v.VoterID, err)
		}
		voters[v.VoterID] = v
	}

	candidates := make(map[int]*models.Candidate, len(rf.Candidates))
	for _, c := range rf.Candidates {
		if err := validateCandidate(c); err != nil {
			return fmt.Errorf("invalid candidate %d: %w", c.ID, err)
		}
		if _, dup := candidates[c.ID]; dup {
			return fmt.Errorf("duplicate candidate id %d", c.ID)
		}
		candidates[c.ID] = c
	}

	r.voters, r.candidates = voters, candidates
	return nil
}

func (r *FileRoll) createDefaultRollFile() error {
	rf := defaultRoll()

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default roll: %w", err)
	}

	if err := writeFileAtomic(r.config.RollFilePath, data); err != nil {
		return fmt.Errorf("failed to save default roll file: %w", err)
	}

	return r.index(rf)
}

func defaultRoll() rollFile {
	const constituency = "Bangalore Central"
	return rollFile{
		Voters: []*models.Voter{
			{VoterID: "VOT123456", Name: "John Doe", Constituency: constituency, IsActive: true},
		},
		Candidates: []*models.Candidate{
			{ID: 1, Name: "Narendra Modi", PartyName: "Bharatiya Janata Party", PartyShortName: "BJP", PartyColor: "#3366CC", Constituency: constituency},
			{ID: 2, Name: "Rahul Gandhi", PartyName: "Indian National Congress", PartyShortName: "INC", PartyColor: "#4CAF50", Constituency: constituency},
			{ID: 3, Name: "Arvind Kejriwal", PartyName: "Aam Aadmi Party", PartyShortName: "AAP", PartyColor: "#9C27B0", Constituency: constituency},
			{ID: 4, Name: "None of the Above", PartyName: "NOTA", PartyShortName: "NOTA", PartyColor: "#FF9800", Constituency: constituency},
		},
	}
}

func validateVoter(v *models.Voter) error {
	if v.VoterID == "" {
		return fmt.Errorf("%w: voter id is required", ErrInvalidEntry)
	}
	if v.Constituency == "" {
		return fmt.Errorf("%w: constituency is required", ErrInvalidEntry)
	}
	return nil
}

func validateCandidate(c *models.Candidate) error {
	if c.ID < 0 {
		return fmt.Errorf("%w: candidate id must not be negative", ErrInvalidEntry)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if c.Constituency == "" {
		return fmt.Errorf("%w: constituency is required", ErrInvalidEntry)
	}
	return nil
}

func (r *FileRoll) GetVoter(voterID string) (*models.Voter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voter, exists := r.voters[voterID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVoterNotFound, voterID)
	}
	if !voter.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrVoterInactive, voterID)
	}

	voterCopy := *voter
	return &voterCopy, nil
}

func (r *FileRoll) GetCandidate(id int) (*models.Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.candidates[id]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrCandidateNotFound, id)
	}
	candidateCopy := *c
	return &candidateCopy, nil
}

func (r *FileRoll) CandidatesByConstituency(constituency string) []models.Candidate {
	var out []models.Candidate
	for _, c := range r.AllCandidates() {
		if c.Constituency == constituency {
			out = append(out, c)
		}
	}
	return out
}

// AllCandidates returns every candidate ordered by id.
func (r *FileRoll) AllCandidates() []models.Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Voters returns every voter, inactive ones included, ordered by id.
func (r *FileRoll) Voters() []models.Voter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Voter, 0, len(r.voters))
	for _, v := range r.voters {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out
}

func (r *FileRoll) AddVoter(v models.Voter) error {
	if err := validateVoter(&v); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.voters[v.VoterID]; exists {
		return fmt.Errorf("%w: %s", ErrVoterExists, v.VoterID)
	}
	voters := r.cloneVoters()
	voters[v.VoterID] = &v
	return r.commit(voters, r.candidates)
}

// UpdateVoter replaces the stored voter with the same id.
func (r *FileRoll) UpdateVoter(v models.Voter) error {
	if err := validateVoter(&v); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.voters[v.VoterID]; !exists {
		return fmt.Errorf("%w: %s", ErrVoterNotFound, v.VoterID)
	}
	voters := r.cloneVoters()
	voters[v.VoterID] = &v
	return r.commit(voters, r.candidates)
}

func (r *FileRoll) RemoveVoter(voterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.voters[voterID]; !exists {
		return fmt.Errorf("%w: %s", ErrVoterNotFound, voterID)
	}
	voters := r.cloneVoters()
	delete(voters, voterID)
	return r.commit(voters, r.candidates)
}

// AddCandidate stores a new candidate. A zero id is replaced by the next free one.
func (r *FileRoll) AddCandidate(c models.Candidate) (models.Candidate, error) {
	if err := validateCandidate(&c); err != nil {
		return models.Candidate{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == 0 {
		for id := range r.candidates {
			if id > c.ID {
				c.ID = id
			}
		}
		c.ID++
	} else if _, exists := r.candidates[c.ID]; exists {
		return models.Candidate{}, fmt.Errorf("%w: %d", ErrCandidateExists, c.ID)
	}

	candidates := r.cloneCandidates()
	candidates[c.ID] = &c
	if err := r.commit(r.voters, candidates); err != nil {
		return models.Candidate{}, err
	}
	return c, nil
}

func (r *FileRoll) UpdateCandidate(c models.Candidate) error {
	if err := validateCandidate(&c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.candidates[c.ID]; !exists {
		return fmt.Errorf("%w: %d", ErrCandidateNotFound, c.ID)
	}
	candidates := r.cloneCandidates()
	candidates[c.ID] = &c
	return r.commit(r.voters, candidates)
}

func (r *FileRoll) RemoveCandidate(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.candidates[id]; !exists {
		return fmt.Errorf("%w: %d", ErrCandidateNotFound, id)
	}
	candidates := r.cloneCandidates()
	delete(candidates, id)
	return r.commit(r.voters, candidates)
}

func (r *FileRoll) cloneVoters() map[string]*models.Voter {
	out := make(map[string]*models.Voter, len(r.voters)+1)
	for k, v := range r.voters {
		out[k] = v
	}
	return out
}

func (r *FileRoll) cloneCandidates() map[int]*models.Candidate {
	out := make(map[int]*models.Candidate, len(r.candidates)+1)
	for k, c := range r.candidates {
		out[k] = c
	}
	return out
}

// commit writes the new roll to disk and only then swaps it in. Callers hold r.mu.
func (r *FileRoll) commit(voters map[string]*models.Voter, candidates map[int]*models.Candidate) error {
	rf := rollFile{
		Voters:     make([]*models.Voter, 0, len(voters)),
		Candidates: make([]*models.Candidate, 0, len(candidates)),
	}
	for _, v := range voters {
		rf.Voters = append(rf.Voters, v)
	}
	for _, c := range candidates {
		rf.Candidates = append(rf.Candidates, c)
	}
	sort.Slice(rf.Voters, func(i, j int) bool { return rf.Voters[i].VoterID < rf.Voters[j].VoterID })
	sort.Slice(rf.Candidates, func(i, j int) bool { return rf.Candidates[i].ID < rf.Candidates[j].ID })

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal roll: %w", err)
	}
	if err := writeFileAtomic(r.config.RollFilePath, data); err != nil {
		return fmt.Errorf("failed to save roll file: %w", err)
	}

	r.voters, r.candidates = voters, candidates
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
