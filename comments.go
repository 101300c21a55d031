/*
 * @Description: comments 子命令：通过评论看板的客户端缓存查看文章评论汇总
 * @Author: 安知鱼
 * @Date: 2025-08-14 16:45:03
 * @LastEditTime: 2026-10-17 23:41:37
 * @LastEditors: 安知鱼
 */
package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/infra/persistence/database"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/apiclient"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/cache/rangecache"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/config"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/utility"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/store/articlecomment"
)

type commentsFlags struct {
	page     int
	pageSize int
	sortKey  string
	sortDir  string
	status   string
	search   string
	stats    bool
	force    bool
}

func newCommentsCmd() *cobra.Command {
	var f commentsFlags
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "打印一页文章评论汇总",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComments(cmd, f)
		},
	}
	cmd.Flags().IntVar(&f.page, "page", 1, "页码")
	cmd.Flags().IntVar(&f.pageSize, "page-size", articlecomment.DefaultPageSize, "每页条数")
	cmd.Flags().StringVar(&f.sortKey, "sort-key", "", "排序字段")
	cmd.Flags().StringVar(&f.sortDir, "sort-dir", "", "排序方向 (asc|desc)")
	cmd.Flags().StringVar(&f.status, "status", "", "按评论状态筛选")
	cmd.Flags().StringVar(&f.search, "search", "", "按文章标题搜索")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "同时打印聚合计数")
	cmd.Flags().BoolVar(&f.force, "force", false, "忽略缓存强制刷新")
	return cmd
}

func runComments(cmd *cobra.Command, f commentsFlags) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	client := apiclient.NewClient(apiclient.Options{
		BaseURL:  appConfig.GetString(config.KeyClientBaseURL),
		BasePath: appConfig.GetString(config.KeyClientBasePath),
		Token:    appConfig.GetString(config.KeyClientToken),
		Logger:   logger,
	})

	// 偏好保存在 Redis 中，不可用时仅在本次进程内有效
	redisClient := database.NewRedisClient(ctx, appConfig, logger)
	prefs := utility.NewCacheServiceWithFallback(redisClient, logger)
	defer func() {
		if mem, ok := prefs.(*utility.MemoryCacheService); ok {
			mem.Stop()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	store := articlecomment.NewStore(client, articlecomment.Options{
		TTL:         time.Duration(appConfig.GetInt(config.KeyCacheTTLSeconds)) * time.Second,
		Preferences: prefs,
		Logger:      logger,
	})
	if err := store.LoadPreferences(ctx); err != nil {
		logger.Sugar().Warnf("读取查询偏好失败: %v", err)
	}

	q := store.Query()
	flags := cmd.Flags()
	if flags.Changed("sort-key") {
		q.SortKey = f.sortKey
	}
	if flags.Changed("sort-dir") {
		q.SortDir = f.sortDir
	}
	if flags.Changed("status") || flags.Changed("search") {
		filters := url.Values{}
		for key, vals := range q.Filters {
			filters[key] = vals
		}
		if flags.Changed("status") {
			setFilter(filters, "status", f.status)
		}
		if flags.Changed("search") {
			setFilter(filters, "search", f.search)
		}
		q.Filters = filters
	}
	q.Page, q.PageSize = f.page, f.pageSize
	if err := store.SetQuery(ctx, q); err != nil {
		logger.Sugar().Warnf("保存查询偏好失败: %v", err)
	}

	if err := store.FetchPage(ctx, f.page, f.pageSize, f.force); err != nil {
		return err
	}
	printPage(cmd.OutOrStdout(), store.Page())

	if f.stats {
		stats, err := store.Stats(ctx, f.force)
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), stats)
	}
	return nil
}

func setFilter(filters url.Values, key, value string) {
	if value == "" {
		filters.Del(key)
		return
	}
	filters.Set(key, value)
}

func printPage(w io.Writer, view rangecache.View[model.ArticleCommentSummary]) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\t文章\t标题\t总数\t通过\t待审\t拒绝\t最近评论")
	for i, row := range view.Items {
		latest := "-"
		if row.LatestCommentAt != nil {
			latest = row.LatestCommentAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			view.Range.Start+i+1, row.ArticleID, row.Title,
			row.TotalComments, row.ApprovedComments, row.PendingComments, row.RejectedComments, latest)
	}
	_ = tw.Flush()

	total := "未知"
	if view.Meta.Total >= 0 {
		total = fmt.Sprint(view.Meta.Total)
	}
	fmt.Fprintf(w, "第 %d 页，每页 %d 条，共 %s 条\n", view.Meta.Page, view.Meta.PageSize, total)
}

func printStats(w io.Writer, stats *model.CommentStats) {
	fmt.Fprintf(w, "评论总数 %d：通过 %d，待审 %d，拒绝 %d，已删除 %d，有评论的文章 %d\n",
		stats.TotalComments, stats.ApprovedComments, stats.PendingComments,
		stats.RejectedComments, stats.DeletedComments, stats.ArticlesWithTalk)
}
