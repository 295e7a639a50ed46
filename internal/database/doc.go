/*
包 database 负责打开会话存储使用的 SQL 连接并管理连接池。

Open 按 database.driver 选择 gorm 方言（postgres、mysql、sqlite），
SQLite 走纯 Go 的 glebarez 驱动。PoolManager 配置连接池参数，
后台定时探活并把连接数上报到 Prometheus，同时通过 gorm 回调
记录每类操作的耗时与慢查询日志。
*/
package database
