// pdbview prints the types and globals of a Microsoft PDB file and renders
// structures and C expressions over a memory image.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jtang613/pdbview/internal/config"
	"github.com/jtang613/pdbview/pkg/pdb"
	"github.com/jtang613/pdbview/pkg/pdb/memory"
	"github.com/jtang613/pdbview/pkg/pdb/structs"
)

func main() {
	cfg := config.NewConfig()

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	pretty := cfg.Pretty || term.IsTerminal(int(os.Stdout.Fd()))
	if err := run(cfg, logger, os.Stdout, pretty); err != nil {
		logger.Sugar().Debugw("pdbview failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger, out io.Writer, pretty bool) error {
	p, err := pdb.Open(cfg.PDBFile,
		pdb.WithLogger(logger),
		pdb.WithPointerSize(cfg.PointerSize),
		pdb.WithMaxDepth(cfg.MaxDepth),
	)
	if err != nil {
		return fmt.Errorf("opening PDB: %w", err)
	}
	defer p.Close()

	var mem memory.Source
	if cfg.Image != "" {
		data, err := os.ReadFile(cfg.Image)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		mem = memory.NewBuffer(data, cfg.ImageBase)
	}

	result := make(map[string]any)

	if cfg.Info {
		result["info"] = p.Info()
	}
	if cfg.Types {
		result["types"] = p.Types()
	}
	if cfg.Globals {
		result["globals"] = p.Globals()
	}
	if cfg.Constants {
		result["constants"] = p.Constants()
	}
	if cfg.Sections {
		result["sections"] = p.Sections()
	}
	if cfg.Modules {
		result["modules"] = p.Modules()
	}

	if cfg.Struct != "" {
		rec, err := p.Materialize(cfg.Struct, cfg.Addr, cfg.Count, !cfg.Shallow, mem)
		if err != nil {
			return fmt.Errorf("materializing %s: %w", cfg.Struct, err)
		}
		result["struct"] = structs.Describe(rec)
	}

	if cfg.Expr != "" {
		v, err := p.Evaluate(cfg.Expr, cfg.Base, mem)
		if err != nil {
			return err
		}
		if v.IsRecord() {
			result["expr"] = structs.Describe(v.Record)
		} else {
			result["expr"] = map[string]int64{"value": v.Scalar}
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false) // keep &, <, > readable in type names
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(result)
}
