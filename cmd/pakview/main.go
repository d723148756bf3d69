package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pakview/pakview/previews"
	"github.com/pakview/pakview/store"
)

var (
	configFile = flag.String("config", "", "path to a TOML configuration file")
	contentDir = flag.String("root", ".", "directory holding the package archives")
	cacheDir   = flag.String("cache", "", "directory for the persistent thumbnail cache")
	usage      = `
pakview <command> <command arguments>

Possible commands:
    list

    show <package name list>

    preload [package name list]
`
)

// tomlConfig mirrors the tunables of previews.Config. Zero values mean
// "use the default".
type tomlConfig struct {
	ContentDir string
	CacheDir   string

	HotEntries  int
	WarmEntries int
	DiskBytes   int64

	MinImageBytes int64
	MaxImageBytes int64
	MinEdge       int
	MaxEdge       int

	Parallelism        int
	BatchTimeoutSec    int
	PreloadBytesPerSec int64
}

func main() {
	flag.Parse()

	var tc tomlConfig
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &tc); err != nil {
			log.Fatalf("%s: %v", *configFile, err)
		}
	}
	if *contentDir != "." || tc.ContentDir == "" {
		tc.ContentDir = *contentDir
	}
	if *cacheDir != "" {
		tc.CacheDir = *cacheDir
	}
	if tc.CacheDir == "" {
		tc.CacheDir = filepath.Join(os.TempDir(), "pakview-cache")
	}
	os.MkdirAll(tc.CacheDir, 0755)

	fmt.Printf("Content dir %s\n", tc.ContentDir)
	fmt.Printf("Cache dir %s\n", tc.CacheDir)

	packages, err := findPackages(tc.ContentDir)
	if err != nil {
		log.Fatal(err)
	}
	svc := previews.New(serviceConfig(tc), locator(packages), store.NewFileSystem(tc.CacheDir))
	defer svc.Stop()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Print(usage)
		return
	}

	switch args[0] {
	case "list":
		dolist(packages)
	case "show":
		doshow(svc, args[1:])
	case "preload":
		dopreload(svc, packages, args[1:])
	default:
		fmt.Print(usage)
	}
}

func serviceConfig(tc tomlConfig) previews.Config {
	cfg := previews.DefaultConfig()
	if tc.HotEntries > 0 {
		cfg.HotEntries = tc.HotEntries
	}
	if tc.WarmEntries > 0 {
		cfg.WarmEntries = tc.WarmEntries
	}
	if tc.DiskBytes > 0 {
		cfg.DiskBytes = tc.DiskBytes
	}
	if tc.MinImageBytes > 0 {
		cfg.MinImageBytes = tc.MinImageBytes
	}
	if tc.MaxImageBytes > 0 {
		cfg.MaxImageBytes = tc.MaxImageBytes
	}
	if tc.MinEdge > 0 {
		cfg.MinEdge = tc.MinEdge
	}
	if tc.MaxEdge > 0 {
		cfg.MaxEdge = tc.MaxEdge
	}
	if tc.Parallelism > 0 {
		cfg.Parallelism = tc.Parallelism
	}
	if tc.BatchTimeoutSec > 0 {
		cfg.BatchTimeout = time.Duration(tc.BatchTimeoutSec) * time.Second
	}
	if tc.PreloadBytesPerSec > 0 {
		cfg.PreloadBytesPerSec = tc.PreloadBytesPerSec
	}
	return cfg
}

// findPackages walks the content directory and maps package names, the
// archive file stems, to archive paths.
func findPackages(root string) (map[string]string, error) {
	packages := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fmt.Println(err.Error())
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			name := strings.TrimSuffix(info.Name(), filepath.Ext(path))
			packages[name] = path
		}
		return nil
	})
	return packages, err
}

func locator(packages map[string]string) previews.Locator {
	return previews.LocatorFunc(func(pkg string) (string, error) {
		path, ok := packages[pkg]
		if !ok {
			return "", fmt.Errorf("no archive for package %s", pkg)
		}
		return path, nil
	})
}

func dolist(packages map[string]string) {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
}

func doshow(svc *previews.Service, names []string) {
	for _, name := range names {
		images := svc.LoadMany(context.Background(), name, 0)
		fmt.Printf("%s: %d previews\n", name, len(images))
		w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
		for _, img := range images {
			fmt.Fprintf(w, "  %s\t%dx%d\t%d bytes\n",
				img.Location.InternalPath,
				img.Location.Width,
				img.Location.Height,
				len(img.Data))
		}
		w.Flush()
	}
}

func dopreload(svc *previews.Service, packages map[string]string, names []string) {
	if len(names) == 0 {
		for name := range packages {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		fmt.Printf("Preloading %s\n", name)
		svc.Preload(context.Background(), name)
	}
	printstats(svc.Stats())
}

func printstats(st previews.Stats) {
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "DiskBytes:\t%d\n", st.DiskBytes)
	fmt.Fprintf(w, "DiskBytesWritten:\t%d\n", st.DiskBytesWritten)
	fmt.Fprintf(w, "DiskBytesRead:\t%d\n", st.DiskBytesRead)
	fmt.Fprintf(w, "HitCount:\t%d\n", st.HitCount)
	fmt.Fprintf(w, "MissCount:\t%d\n", st.MissCount)
	fmt.Fprintf(w, "HitRate:\t%.2f\n", st.HitRate)
	w.Flush()
}
