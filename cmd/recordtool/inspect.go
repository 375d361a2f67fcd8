package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/ml/data"
	"github.com/recordml/recordml/ml/data/records"
	"github.com/recordml/recordml/types/tensors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// maxValueLength is the maximum number of characters used to display a feature value.
const maxValueLength = 60

// openDataset creates the dataset in -config, with its files replaced by files, if given.
func openDataset(files []string) (*records.Dataset, records.Config, error) {
	hp, err := loadHParams()
	if err != nil {
		return nil, records.Config{}, err
	}
	if len(files) > 0 {
		hp.Files = files
	}
	config, err := hp.Config()
	if err != nil {
		return nil, config, err
	}
	ds, err := records.NewDataset(config)
	return ds, config, err
}

// formatValue returns a short description of a decoded feature value.
func formatValue(value any) string {
	var s string
	switch v := value.(type) {
	case *tensors.Tensor:
		s = fmt.Sprintf("image %s", v.Shape())
	case []byte:
		s = fmt.Sprintf("%d bytes: %q", len(v), v)
	case [][]byte:
		s = fmt.Sprintf("%d blobs", len(v))
	default:
		s = fmt.Sprintf("%v", v)
	}
	if len(s) > maxValueLength {
		s = s[:maxValueLength-3] + "..."
	}
	return s
}

func runInspect(files []string) error {
	ds, config, err := openDataset(files)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	fmt.Println(titleStyle.Render(fmt.Sprintf("Dataset %q", ds.Name())))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	var totalSize int64
	for _, path := range ds.Files() {
		if info, err := os.Stat(path); err == nil {
			totalSize += info.Size()
		}
	}
	table.Row("files", humanize.Comma(int64(len(ds.Files()))))
	table.Row("size", humanize.Bytes(uint64(totalSize)))
	table.Row("# examples", humanize.Comma(int64(ds.NumExamples())))
	fmt.Println(table.Render())

	images := make(map[string]records.ImageOption, len(config.ImageOptions))
	for _, opt := range config.ImageOptions {
		images[opt.FeatureName] = opt
	}
	fmt.Println(titleStyle.Render("Features"))
	table = newPlainTable(lipgloss.Left)
	table.Headers("Name", "Stored as", "Read as", "Image")
	for _, name := range ds.ListItems() {
		spec, _ := ds.Schema().Spec(name)
		readAs := ""
		if to, found := config.Conversions[name]; found {
			readAs = to.String()
		}
		image := ""
		if opt, found := images[name]; found {
			image = "native size"
			if opt.Resizes() {
				image = fmt.Sprintf("resized to %dx%d", opt.ResizeHeight, opt.ResizeWidth)
			}
		}
		table.Row(name, spec.String(), readAs, image)
	}
	fmt.Println(table.Render())

	for index := range min(*flagLimit, ds.NumExamples()) {
		record, err := ds.Get(index)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("Example #%d", index)))
		table = newPlainTable(lipgloss.Right, lipgloss.Left)
		for _, name := range ds.ListItems() {
			table.Row(name, formatValue(record[name]))
		}
		fmt.Println(table.Render())
	}
	return nil
}

// validateDataset decodes every example of ds with a parallel loader, and returns the number of examples.
func validateDataset(ds *records.Dataset, showProgressBar bool) (int, error) {
	var bar *progressbar.ProgressBar
	if showProgressBar {
		bar = progressbar.Default(int64(ds.NumExamples()), "decoding")
		defer func() { _ = bar.Close() }()
	}
	// Only the sizes of the decoded values are kept.
	sizes := data.Map[records.Record, int](ds, func(_ int, record records.Record) (int, error) {
		return len(record), nil
	})
	loader := data.NewLoader(sizes).
		BatchSize(*flagBatchSize).
		Parallelism(*flagParallelism).
		Epochs(1).
		Start()
	defer loader.Done()
	var count int
	for {
		batch, err := loader.Yield()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count += len(batch)
		if bar != nil {
			_ = bar.Add(len(batch))
		}
	}
}

func runValidate(files []string) error {
	ds, _, err := openDataset(files)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()
	count, err := validateDataset(ds, *flagProgress)
	if err != nil {
		return errors.WithMessagef(err, "after %d valid examples", count)
	}
	fmt.Printf("%s examples decoded successfully from %s\n", humanize.Comma(int64(count)), strings.Join(ds.Files(), ", "))
	return nil
}

func runMerge(paths []string) error {
	if len(paths) == 0 || *flagOutput == "" {
		return errors.New("'merge' requires -output and at least one input file")
	}
	f, err := os.Create(*flagOutput)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", *flagOutput)
	}
	n, err := data.ConcatenateFiles(f, *flagProgress, paths...)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close %q", *flagOutput)
	}
	if err != nil {
		_ = os.Remove(*flagOutput)
		return err
	}
	klog.Infof("%s merged from %d files into %q", humanize.Bytes(uint64(n)), len(paths), *flagOutput)
	return nil
}

func runChecksum(paths []string) error {
	if len(paths) != 1 {
		return errors.New("'checksum' requires exactly one file")
	}
	hash, err := data.FileChecksum(paths[0])
	if err != nil {
		return err
	}
	if *flagChecksum == "" {
		fmt.Printf("%s  %s\n", hash, paths[0])
		return nil
	}
	if !strings.EqualFold(hash, *flagChecksum) {
		return errors.Errorf("file %q sha256 hash is %q, but expected %q", paths[0], hash, *flagChecksum)
	}
	fmt.Printf("%s: OK\n", paths[0])
	return nil
}
