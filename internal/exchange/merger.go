// merger.go wraps the external merge helper. Merging burns matched YES/NO
// pairs back into collateral; the signing path for that transaction lives in
// a separate process invoked as:
//
//	<command> <raw_amount> <condition_id> <true|false>
//
// Exit code 0 means the merge landed and stdout carries the transaction
// hash; anything else is a failure with the reason on stderr.
package exchange

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tzf1003/poly-maker-rewords/internal/config"
)

const mergeTimeout = 120 * time.Second

// Merger invokes the on-chain merge subprocess.
type Merger struct {
	command []string
	dryRun  bool
	logger  *slog.Logger
}

func NewMerger(cfg config.Config, logger *slog.Logger) *Merger {
	return &Merger{
		command: strings.Fields(cfg.Merge.Command),
		dryRun:  cfg.DryRun,
		logger:  logger.With("component", "merger"),
	}
}

// Merge burns rawAmount (6-decimal units) of offsetting exposure in the
// given market and returns the transaction hash.
func (m *Merger) Merge(ctx context.Context, rawAmount *big.Int, conditionID string, negRisk bool) (string, error) {
	if len(m.command) == 0 {
		return "", fmt.Errorf("merge command not configured")
	}
	if m.dryRun {
		m.logger.Info("DRY-RUN: would merge positions",
			"raw_amount", rawAmount, "market", conditionID, "neg_risk", negRisk)
		return "dry-run", nil
	}

	args := append(m.command[1:],
		rawAmount.String(),
		conditionID,
		strconv.FormatBool(negRisk),
	)

	runCtx, cancel := context.WithTimeout(ctx, mergeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, m.command[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	m.logger.Info("merging positions", "raw_amount", rawAmount, "market", conditionID, "neg_risk", negRisk)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("merge failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	txHash := strings.TrimSpace(stdout.String())
	m.logger.Info("merge complete", "market", conditionID, "tx", txHash)
	return txHash, nil
}
