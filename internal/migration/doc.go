/*
包 migration 管理 ALCS 会话存储的 SQL Schema（sessions、artifacts、reviews 三张表），
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

迁移文件通过 embed.FS 内嵌，按方言存放于 migrations/<dialect>/。
表结构与 persistence 包的 gorm 模型保持一致，生产环境使用
`alcs migrate up` 建表，开发环境也可通过 store.auto_migrate 让 gorm 自动建表。

SQLite 以 "sqlite" 驱动名打开，驱动由调用方链接：服务进程经 gorm 链接
glebarez/go-sqlite，测试链接 modernc.org/sqlite，两者不可同时链接。

主要入口：

  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig / NewMigratorFromURL
  - CLI：供 `alcs migrate` 子命令使用的格式化输出层
*/
package migration
