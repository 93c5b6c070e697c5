package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/storage"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/common"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/store"

	"github.com/spf13/cobra"
)

var pagesFile string
var imagesFile string
var ingestQuestions []string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the graph from a pages document",
	Long: `Build the graph from a pages document ([{"page": 1, "md": "..."}]) and an
optional page image manifest ({"1": "s3://bucket/p1.png"}).

With GRAPH_STORE=memory the graph only lives for this process; pass
--query to ask questions against it before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pages, images, err := readInputs(pagesFile, imagesFile)
		if err != nil {
			return err
		}

		b, err := openBackends(ctx)
		if err != nil {
			return err
		}
		defer b.store.Close(context.Background())

		graphClient, err := b.cfg.NewGraphClient()
		if err != nil {
			return err
		}
		locker, closeLock, err := b.cfg.NewIngestLock(ctx)
		if err != nil {
			return err
		}
		defer closeLock()

		var summary *graph.ProcessSummary
		err = queue.WithIngestLock(ctx, locker, "kgctl-", func(ctx context.Context) error {
			summary, err = graphClient.ProcessDocument(ctx, pages, images, b.aiClient, b.store)
			return err
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := writeJSON(out, summary); err != nil {
				return err
			}
		} else {
			renderSummary(out, summary)
		}

		if len(ingestQuestions) == 0 {
			return nil
		}
		answerer := b.answerer()
		for _, q := range ingestQuestions {
			if err := ask(ctx, cmd, answerer, q); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&pagesFile, "pages", "", "Pages document (JSON)")
	ingestCmd.Flags().StringVar(&imagesFile, "images", "", "Page image manifest (JSON)")
	ingestCmd.Flags().StringArrayVarP(&ingestQuestions, "query", "q", nil, "Question to answer after the build (repeatable)")
	_ = ingestCmd.MarkFlagRequired("pages")

	rootCmd.AddCommand(ingestCmd)
}

func readInputs(pagesPath string, imagesPath string) ([]common.Page, []*common.PageImage, error) {
	f, err := os.Open(pagesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pages: %w", err)
	}
	defer f.Close()
	pages, err := common.ReadPages(f)
	if err != nil {
		return nil, nil, err
	}

	if imagesPath == "" {
		return pages, nil, nil
	}
	mf, err := os.Open(imagesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image manifest: %w", err)
	}
	defer mf.Close()
	images, err := common.ReadImageManifest(mf)
	if err != nil {
		return nil, nil, err
	}

	return pages, images, nil
}

type backends struct {
	cfg      *config.Config
	aiClient ai.GraphAIClient
	store    store.GraphStorage
	objects  query.ObjectGetter
}

func openBackends(ctx context.Context) (*backends, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	aiClient, err := cfg.NewAIClient()
	if err != nil {
		return nil, err
	}
	s, err := cfg.NewStore(ctx)
	if err != nil {
		return nil, err
	}

	b := &backends{cfg: cfg, aiClient: aiClient, store: s}
	objects, err := storage.NewObjectStore(ctx, cfg.S3)
	if err != nil {
		logger.Warn("[CLI] S3 unavailable, s3:// page images cannot be fetched", "err", err)
	} else {
		b.objects = objects
	}
	return b, nil
}

func (b *backends) answerer() *query.Answerer {
	return b.cfg.NewAnswerer(b.aiClient, b.store, b.objects)
}
