package governance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Approval is the operator's signed grant for publishing side effects. The
// signature is an HMAC over approver|counter|granted_at with the operator's
// local key; the counter is monotonic so a stale grant cannot be replayed by
// copying an old file back into place.
type Approval struct {
	Approver  string    `json:"approver"`
	Counter   uint64    `json:"counter"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Signature string    `json:"signature"`
}

// ApprovalFile manages the grant file, its signing key, and the counter
// high-water mark under the state root.
type ApprovalFile struct {
	path    string
	keyPath string
	ctrPath string
	mu      sync.Mutex
}

// NewApprovalFile binds the approval file inside the state root.
func NewApprovalFile(stateRoot, name string) *ApprovalFile {
	if name == "" {
		name = "approval.json"
	}
	return &ApprovalFile{
		path:    filepath.Join(stateRoot, name),
		keyPath: filepath.Join(stateRoot, ".approval.key"),
		ctrPath: filepath.Join(stateRoot, ".approval.ctr"),
	}
}

// fence returns the highest counter ever issued or retired. A grant whose
// counter falls below the fence has been superseded.
func (a *ApprovalFile) fence() uint64 {
	data, err := os.ReadFile(a.ctrPath)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (a *ApprovalFile) setFence(n uint64) error {
	if err := os.MkdirAll(filepath.Dir(a.ctrPath), 0o755); err != nil {
		return fmt.Errorf("ensure counter dir: %w", err)
	}
	if err := os.WriteFile(a.ctrPath, []byte(strconv.FormatUint(n, 10)), 0o600); err != nil {
		return fmt.Errorf("write approval counter: %w", err)
	}
	return nil
}

func (a *ApprovalFile) key() ([]byte, error) {
	data, err := os.ReadFile(a.keyPath)
	if err == nil && len(data) >= 32 {
		return data, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read approval key: %w", err)
	}
	key := make([]byte, 32)
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", a.keyPath, time.Now().UnixNano())))
	copy(key, digest[:])
	if err := os.MkdirAll(filepath.Dir(a.keyPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure key dir: %w", err)
	}
	if err := os.WriteFile(a.keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("write approval key: %w", err)
	}
	return key, nil
}

func sign(key []byte, approval Approval) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s|%d|%d", approval.Approver, approval.Counter, approval.GrantedAt.UTC().UnixNano())
	return hex.EncodeToString(mac.Sum(nil))
}

// Grant writes a fresh approval for the named operator, bumping the counter
// past any previous grant.
func (a *ApprovalFile) Grant(approver string, ttl time.Duration) (*Approval, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, err := a.key()
	if err != nil {
		return nil, err
	}

	counter := a.fence() + 1
	if prev, err := a.read(); err == nil && prev.Counter >= counter {
		counter = prev.Counter + 1
	}

	approval := Approval{
		Approver:  approver,
		Counter:   counter,
		GrantedAt: time.Now().UTC(),
	}
	if ttl > 0 {
		approval.ExpiresAt = approval.GrantedAt.Add(ttl)
	}
	approval.Signature = sign(key, approval)

	data, err := json.MarshalIndent(approval, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode approval: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write approval: %w", err)
	}
	if err := a.setFence(counter); err != nil {
		return nil, err
	}
	return &approval, nil
}

// Revoke removes the grant file and retires its counter, so copying the old
// file back into place fails validation.
func (a *ApprovalFile) Revoke() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("revoke approval: %w", err)
	}
	return a.setFence(a.fence() + 1)
}

func (a *ApprovalFile) read() (*Approval, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, err
	}
	var approval Approval
	if err := json.Unmarshal(data, &approval); err != nil {
		return nil, fmt.Errorf("parse approval: %w", err)
	}
	return &approval, nil
}

// Validate checks that a current, correctly signed grant exists and that its
// counter has not been superseded by a later grant or a revocation.
func (a *ApprovalFile) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	approval, err := a.read()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no approval on file")
		}
		return err
	}
	key, err := a.key()
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(approval.Signature), []byte(sign(key, *approval))) {
		return fmt.Errorf("approval signature is invalid")
	}
	if !approval.ExpiresAt.IsZero() && time.Now().After(approval.ExpiresAt) {
		return fmt.Errorf("approval expired at %s", approval.ExpiresAt.Format(time.RFC3339))
	}
	if approval.Counter < a.fence() {
		return fmt.Errorf("approval counter %d superseded by a later grant", approval.Counter)
	}
	return nil
}

// Current returns the grant on file, validated.
func (a *ApprovalFile) Current() (*Approval, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.read()
}
