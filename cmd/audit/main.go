// Command audit fetches a node's chain and validates it locally.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"election-ledger/models"
	"election-ledger/service"
)

type chainResponse struct {
	BlockCount int            `json:"block_count"`
	Difficulty int            `json:"difficulty"`
	Blocks     []models.Block `json:"blocks"`
	IsValid    bool           `json:"is_valid"`
	LastHash   string         `json:"last_hash"`
}

func fetchChain(baseURL string, timeout time.Duration) (*chainResponse, error) {
	client := &http.Client{Timeout: timeout}

	resp, err := client.Get(baseURL + "/api/blockchain")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned %s", resp.Status)
	}

	var chain chainResponse
	if err := json.NewDecoder(resp.Body).Decode(&chain); err != nil {
		return nil, fmt.Errorf("failed to decode chain: %w", err)
	}
	return &chain, nil
}

func short(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "…"
}

func blockTable(blocks []models.Block, bad int) pterm.TableData {
	data := pterm.TableData{{"Index", "Timestamp", "Votes", "Nonce", "Previous", "Hash"}}
	for _, b := range blocks {
		index := strconv.FormatUint(b.Index, 10)
		if int(b.Index) == bad {
			index = pterm.LightRed(index + " ✗")
		}
		data = append(data, []string{
			index,
			b.Timestamp.UTC().Format(time.RFC3339),
			strconv.Itoa(len(b.Votes)),
			strconv.FormatUint(b.Nonce, 10),
			short(b.PreviousHash),
			short(b.Hash),
		})
	}
	return data
}

func main() {
	url := flag.String("url", "http://localhost:8080", "Base URL of the ledger node")
	difficulty := flag.Int("difficulty", 0, "Difficulty to validate against (0 = the node's)")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP timeout")
	showBlocks := flag.Bool("blocks", false, "Print every block")
	flag.Parse()

	spinner, _ := pterm.DefaultSpinner.Start("Fetching chain from " + *url)
	chain, err := fetchChain(*url, *timeout)
	if err != nil {
		spinner.Fail(err.Error())
		os.Exit(2)
	}
	spinner.Success(fmt.Sprintf("Fetched %d blocks", len(chain.Blocks)))

	d := chain.Difficulty
	if *difficulty > 0 {
		d = *difficulty
	}

	bad := -1
	verr := models.ValidateChain(chain.Blocks, d)
	var ve *models.ValidationError
	if errors.As(verr, &ve) {
		bad = int(ve.Index)
	}

	if *showBlocks {
		if err := pterm.DefaultTable.WithHasHeader().WithData(blockTable(chain.Blocks, bad)).Render(); err != nil {
			pterm.Warning.Printfln("Failed to render blocks: %v", err)
		}
	}

	ms := service.ComputeMiningStats(chain.Blocks, d)
	pterm.Info.Printfln("Difficulty %d, %d mined blocks, mean nonce %.1f (σ %.1f), expected %.0f", d, ms.Blocks, ms.MeanNonce, ms.StdDevNonce, ms.ExpectedWork)

	if chain.IsValid != (verr == nil) {
		pterm.Warning.Printfln("Node reports is_valid=%t, local validation disagrees", chain.IsValid)
	}

	if verr != nil {
		pterm.Error.Printfln("Chain is corrupt: %v", verr)
		os.Exit(1)
	}
	pterm.Success.Printfln("Chain is valid, last hash %s", chain.LastHash)
}
