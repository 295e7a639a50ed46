/*
Package persistence 提供会话存储抽象层。

# 存储后端

  - MemoryStore: 进程内 map，适合开发与测试
  - RedisStore: JSON 值 + 有序集合索引，支持已结束会话的 TTL
  - GormStore: sessions / artifacts / reviews 三张表，支持 PostgreSQL、MySQL、SQLite
  - MongoStore: 单集合文档存储

所有实现共享 Store 接口，读取时返回副本，编排器对返回值的修改不会影响存储。
*/
package persistence
