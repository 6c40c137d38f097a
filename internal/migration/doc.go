// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 hitl_suspensions 表的 Schema 迁移，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，版本表默认为
hitlflow_schema_migrations。SQLite 使用纯 Go 的 modernc 驱动，不依赖 CGO。

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info。
  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig / NewMigratorFromURL：从配置创建。
  - UpFromConfig：serve 在 store.auto_migrate 开启时执行全部迁移。
  - CLI：hitlflow migrate 子命令的终端输出。

迁移中 ctx 被取消时，当前迁移完成后停止后续迁移。
*/
package migration
