package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"utiles/internal"
	"utiles/internal/catalog"
	"utiles/internal/config"
	"utiles/internal/connectors"
	gmailconnector "utiles/internal/connectors/gmail"
	imapconnector "utiles/internal/connectors/imap"
	"utiles/internal/ledger"
	"utiles/internal/listener"
	"utiles/internal/logger"
	"utiles/internal/pipeline"
	"utiles/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	must(err)
	defer log.Sync()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "catalog:sync":
		svc := catalog.NewSyncService(db, cfg, log)
		count, err := svc.Sync(ctx)
		must(err)
		fmt.Printf("catalog sync complete: %d courses\n", count)
	case "courses:infer":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		label := fs.String("label", "", "file name or course label")
		_ = fs.Parse(args)
		if strings.TrimSpace(*label) == "" {
			must(fmt.Errorf("--label is required"))
		}
		records, err := db.ListCourseRecords()
		must(err)
		res, err := pipeline.ResolveCourse(*label, catalog.BuildIndex(records))
		if res.Descriptor == nil {
			must(err)
		}
		printJSON(res.Descriptor)
		if res.Match != nil {
			fmt.Printf("match course=%d %q score=%d band=%s\n", res.Match.Record.ID, res.Match.Record.Name, res.Match.Score, res.Band)
		} else {
			fmt.Printf("no confident match (band=%s)\n", res.Band)
		}
	case "lists:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		dir := fs.String("dir", "", "directory of pdf files")
		file := fs.String("file", "", "single pdf file")
		courseID := fs.Int("course", 0, "assign every file to this course id")
		_ = fs.Parse(args)

		var uploads []pipeline.Upload
		switch {
		case *file != "":
			up, err := pipeline.LoadFile(*file)
			must(err)
			uploads = []pipeline.Upload{up}
		case *dir != "":
			uploads, err = pipeline.LoadDir(*dir)
			must(err)
		default:
			must(fmt.Errorf("--dir or --file is required"))
		}
		if *courseID > 0 {
			for i := range uploads {
				uploads[i].CourseID = courseID
			}
		}

		proc := pipeline.NewProcessingService(db, cfg, log, nil)
		results, err := pipeline.NewBatchRunner(proc, cfg.BatchWorkers).Run(ctx, uploads)
		must(err)
		failed := 0
		for _, r := range results {
			printFileResult(r.Result)
			if r.Err != nil {
				failed++
				fmt.Printf("  error: %v\n", r.Err)
			}
		}
		fmt.Printf("import done files=%d failed=%d\n", len(results), failed)
	case "lists:extract":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "input file path or raw text")
		inType := fs.String("type", "pdf", "pdf|xlsx|text|html|eml")
		_ = fs.Parse(args)
		if *input == "" {
			must(fmt.Errorf("--input is required"))
		}
		items, err := pipeline.ExtractItemsFromInput(*inType, *input)
		must(err)
		printJSON(pipeline.NormalizeItems(items))
	case "lists:pending":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 100, "max rows")
		_ = fs.Parse(args)
		rows, err := db.ListUploadsByStatus([]internal.UploadStatus{internal.UploadNeedsConfirm, internal.UploadManualReview}, *limit)
		must(err)
		for _, row := range rows {
			candidate := "-"
			if row.CourseID != nil {
				candidate = fmt.Sprintf("%d", *row.CourseID)
			}
			fmt.Printf("upload=%d status=%s reason=%s candidate=%s file=%s\n", row.ID, row.Status, row.Reason, candidate, row.FileName)
		}
		fmt.Printf("pending uploads=%d\n", len(rows))
	case "lists:assign":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		uploadID := fs.Int("upload", 0, "upload id")
		courseID := fs.Int("course", 0, "course id")
		_ = fs.Parse(args)
		if *uploadID == 0 || *courseID == 0 {
			must(fmt.Errorf("--upload and --course are required"))
		}
		proc := pipeline.NewProcessingService(db, cfg, log, nil)
		res, err := proc.AssignUpload(ctx, *uploadID, *courseID)
		must(err)
		printFileResult(res)
	case "lists:approve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		courseID := fs.Int("course", 0, "course id")
		itemID := fs.String("item", "", "item id")
		index := fs.Int("index", -1, "item position in the latest version")
		name := fs.String("name", "", "item name, required with --index")
		unapprove := fs.Bool("unapprove", false, "clear the approval instead")
		_ = fs.Parse(args)
		if *courseID == 0 || (*itemID == "" && *index < 0) {
			must(fmt.Errorf("--course and --item or --index/--name are required"))
		}
		svc := pipeline.NewApprovalService(db, cfg, log)
		c, err := svc.SetItem(ctx, *courseID, internal.ItemRef{ID: *itemID, Name: *name, Index: *index}, !*unapprove)
		must(err)
		printReview(c)
	case "lists:approve-all":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		courseID := fs.Int("course", 0, "course id")
		unapprove := fs.Bool("unapprove", false, "clear every approval instead")
		_ = fs.Parse(args)
		if *courseID == 0 {
			must(fmt.Errorf("--course is required"))
		}
		svc := pipeline.NewApprovalService(db, cfg, log)
		c, err := svc.SetAll(ctx, *courseID, !*unapprove)
		must(err)
		printReview(c)
	case "lists:copy":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		from := fs.Int("from", 0, "source course id")
		to := fs.Int("to", 0, "target course id")
		_ = fs.Parse(args)
		if *from == 0 || *to == 0 {
			must(fmt.Errorf("--from and --to are required"))
		}
		c, err := pipeline.NewCopyService(db, cfg, log).CopyLatest(ctx, *from, *to)
		must(err)
		printReview(c)
	case "lists:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		courseID := fs.Int("course", 0, "course id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(args)
		if *courseID == 0 {
			must(fmt.Errorf("--course is required"))
		}
		c, err := db.MustCourse(*courseID)
		must(err)
		path := *out
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(cfg.OutputDir, listener.ExportFileName(c.ID, c.Name))
		}
		must(pipeline.ExportVersionToXLSX(c, path))
		fmt.Printf("exported course=%d to %s\n", c.ID, path)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(args)
		conn, err := makeConnector(ctx, cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, log)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d failed=%d\n", *provider, result.Fetched, result.Stored, result.Failed)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "", "only messages of this provider")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(args)
		proc := pipeline.NewProcessingService(db, cfg, log, nil)
		results, err := pipeline.NewMailProcessor(db, proc).ProcessPending(ctx, *batch, *provider)
		must(err)
		files := 0
		for _, r := range results {
			for _, f := range r.Files {
				printFileResult(f)
			}
			files += len(r.Files)
		}
		fmt.Printf("processed pending emails=%d files=%d\n", len(results), files)
	case "mail:listen":
		s := listener.NewService(db, cfg, log, nil)
		must(s.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func makeConnector(ctx context.Context, cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func printFileResult(r pipeline.FileResult) {
	target := "-"
	if r.CourseID != nil {
		target = fmt.Sprintf("%d %q", *r.CourseID, r.CourseName)
	}
	fmt.Printf("upload=%d status=%s reason=%s course=%s score=%d items=%d located=%d file=%s\n",
		r.UploadID, r.Status, r.Reason, target, r.Score, r.ItemCount, r.LocatedCount, r.FileName)
}

func printReview(c internal.Course) {
	fmt.Printf("course=%d %q state=%s versions=%d pending=%d\n",
		c.ID, c.Name, c.ReviewState, len(c.Versions), len(ledger.Pending(c)))
}

func printJSON(v any) {
	blob, err := json.MarshalIndent(v, "", "  ")
	must(err)
	fmt.Println(string(blob))
}

func usage() {
	fmt.Println("usage: utiles <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:sync")
	fmt.Println("  courses:infer --label=\"3° Básico B 2026.pdf\"")
	fmt.Println("  lists:import --dir=./listas | --file=lista.pdf [--course=ID]")
	fmt.Println("  lists:extract --input=lista.pdf --type=pdf|xlsx|text|html|eml")
	fmt.Println("  lists:pending [--limit=100]")
	fmt.Println("  lists:assign --upload=ID --course=ID")
	fmt.Println("  lists:approve --course=ID --item=ITEM_ID | --index=N --name=NAME [--unapprove]")
	fmt.Println("  lists:approve-all --course=ID [--unapprove]")
	fmt.Println("  lists:copy --from=ID --to=ID")
	fmt.Println("  lists:export --course=ID [--out=./out/curso.xlsx]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process [--provider=gmail|imap] [--batch=20]")
	fmt.Println("  mail:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
