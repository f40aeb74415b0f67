// Package capture persists the single best frame of a completed
// session to disk (spec.md section 4.8, component C8): an atomic
// write-temp-then-rename pair of files, `<…>_BEST.jpg` (`<…>_BEST.jpg.enc`
// when a keyring is set) and its sibling `.json` metadata. Grounded on
// the teacher's audit spool's write-then-rename idiom
// (internal/audit/failover.go), applied here to the image artifact
// instead of a JSONL log line. With a keyring set (Store.WithKeyring),
// the image is envelope-encrypted at rest with the teacher's crypto.Keyring/AES-GCM
// pair (internal/crypto), reused here for biometric frames instead of
// the teacher's recording/DVR footage.
package capture

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/biokiosk/supervisor/internal/crypto"
)

// Artifact is the selected frame plus everything a downstream
// consumer needs to make sense of it (spec.md section 3).
type Artifact struct {
	SessionID  string    `json:"session_id"`
	PlatformID string    `json:"platform_id"`
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
	DistanceM  float64   `json:"distance_m"`
	StdDevM    float64   `json:"stddev_m"`
	BBox       [4]int    `json:"bbox"`
	ImageJPEG  []byte    `json:"-"`
}

// envelope is the sidecar metadata for a persisted artifact: its
// plaintext fields plus everything needed to unwrap the DEK and
// decrypt the image.
type envelope struct {
	Artifact
	KeyID         string `json:"key_id"`
	DEKNonce      []byte `json:"dek_nonce"`
	DEKCiphertext []byte `json:"dek_ciphertext"`
	DEKTag        []byte `json:"dek_tag"`
	ImageNonce    []byte `json:"image_nonce"`
	ImageTag      []byte `json:"image_tag"`
}

type Store struct {
	dir     string
	keyring *crypto.Keyring // nil disables encryption-at-rest (e.g. dev/test runs without MASTER_KEYS)
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// WithKeyring enables envelope encryption of persisted images. Without
// it, Persist writes plaintext JPEG bytes, which is fine for local
// development but must not happen against a deployed kiosk (capture
// artifacts are biometric data; see DESIGN.md, C8).
func (s *Store) WithKeyring(kr *crypto.Keyring) *Store {
	s.keyring = kr
	return s
}

// Persist writes the artifact's image and metadata atomically and
// returns the image path. A persistence failure is returned to the
// caller (a metadata write failure is also logged here), but per spec.md section 4.8 it must never fail the
// session — callers log-and-continue rather than propagating this as a
// session error.
func (s *Store) Persist(artifact Artifact) (string, error) {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return "", fmt.Errorf("capture: ensure dir: %w", err)
	}

	stamp := artifact.Timestamp.Format("20060102_150405.000")
	stamp = stripDot(stamp)
	base := fmt.Sprintf("%s_%s_BEST", stamp, artifact.PlatformID)
	aad := []byte(artifact.SessionID)

	env := envelope{Artifact: artifact}
	imgData := artifact.ImageJPEG
	imgName := base + ".jpg"

	if s.keyring != nil {
		dek, err := crypto.GenerateDEK()
		if err != nil {
			return "", fmt.Errorf("capture: generate dek: %w", err)
		}
		kid, dekNonce, dekCiphertext, dekTag, err := s.keyring.WrapDEK(dek, aad)
		if err != nil {
			return "", fmt.Errorf("capture: wrap dek: %w", err)
		}
		imgNonce, imgCiphertext, imgTag, err := crypto.EncryptGCM(dek, artifact.ImageJPEG, aad)
		if err != nil {
			return "", fmt.Errorf("capture: encrypt image: %w", err)
		}
		env.KeyID, env.DEKNonce, env.DEKCiphertext, env.DEKTag = kid, dekNonce, dekCiphertext, dekTag
		env.ImageNonce, env.ImageTag = imgNonce, imgTag
		imgData = imgCiphertext
		imgName += ".enc"
	}

	imgPath := filepath.Join(s.dir, imgName)
	if err := atomicWrite(imgPath, imgData); err != nil {
		return "", fmt.Errorf("capture: write image: %w", err)
	}

	meta, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return imgPath, fmt.Errorf("capture: marshal metadata: %w", err)
	}
	metaPath := filepath.Join(s.dir, base+".json")
	if err := atomicWrite(metaPath, meta); err != nil {
		log.Printf("[capture] metadata write failed for %s: %v", imgPath, err)
		return imgPath, fmt.Errorf("capture: write metadata: %w", err)
	}

	return imgPath, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func stripDot(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
