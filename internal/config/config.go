package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
)

type Config struct {
	PDBFile string

	Info      bool
	Types     bool
	Globals   bool
	Constants bool
	Sections  bool
	Modules   bool

	Struct  string
	Addr    uint64
	Count   int
	Shallow bool

	Expr string
	Base uint64

	Image     string // memory image file, read as a static source
	ImageBase uint64 // address of the first image byte

	MaxDepth    int
	PointerSize int // 0 - from the DBI machine type
	Pretty      bool
	Verbose     bool
}

// address is a uint64 flag accepting decimal, 0x hex and 0o octal.
type address uint64

func (a *address) String() string { return fmt.Sprintf("%#x", uint64(*a)) }

func (a *address) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*a = address(v)
	return nil
}

func NewConfig() *Config {
	c, err := Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return c
}

// Parse reads the command line. Usage and flag errors go to out.
func Parse(args []string, out io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("pdbview", flag.ContinueOnError)
	fs.SetOutput(out)

	c := &Config{}
	fs.BoolVar(&c.Info, "info", false, "show PDB file information")
	fs.BoolVar(&c.Types, "types", false, "list named structures, unions and enums")
	fs.BoolVar(&c.Globals, "globals", false, "list global variables")
	fs.BoolVar(&c.Constants, "constants", false, "list named constants")
	fs.BoolVar(&c.Sections, "sections", false, "list PE sections")
	fs.BoolVar(&c.Modules, "modules", false, "list compiled modules")

	fs.StringVar(&c.Struct, "struct", "", "materialize the named structure")
	fs.Var((*address)(&c.Addr), "addr", "address of the structure")
	fs.IntVar(&c.Count, "count", 1, "number of consecutive instances")
	fs.BoolVar(&c.Shallow, "shallow", false, "leave nested composites collapsed")

	fs.StringVar(&c.Expr, "expr", "", "evaluate a C expression")
	fs.Var((*address)(&c.Base), "base", "virtual base address of the image")

	fs.StringVar(&c.Image, "image", "", "memory image file")
	fs.Var((*address)(&c.ImageBase), "image-base", "address of the first byte of the image")

	fs.IntVar(&c.MaxDepth, "max-depth", 0, "bound on recursive materialization (0 - default)")
	fs.IntVar(&c.PointerSize, "pointer-size", 0, "pointer width override, 4 or 8")
	fs.BoolVar(&c.Pretty, "pretty", false, "indent JSON output")
	fs.BoolVar(&c.Verbose, "v", false, "verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: pdbview [options] <pdb-file>\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nExamples:\n")
		fmt.Fprintf(out, "  pdbview -info file.pdb\n")
		fmt.Fprintf(out, "  pdbview -struct _PEB -addr 0x7ff000 -image dump.bin -image-base 0x7ff000 file.pdb\n")
		fmt.Fprintf(out, "  pdbview -expr 'sizeof(struct _PEB)' file.pdb\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("expected exactly one PDB file")
	}
	c.PDBFile = fs.Arg(0)

	if c.PointerSize != 0 && c.PointerSize != 4 && c.PointerSize != 8 {
		return nil, fmt.Errorf("pointer size %d: want 4 or 8", c.PointerSize)
	}
	if c.Count < 1 {
		return nil, fmt.Errorf("count %d: want at least 1", c.Count)
	}

	if !c.Info && !c.Types && !c.Globals && !c.Constants && !c.Sections && !c.Modules &&
		c.Struct == "" && c.Expr == "" {
		c.Info = true
	}
	return c, nil
}
