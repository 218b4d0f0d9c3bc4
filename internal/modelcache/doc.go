// Package modelcache 编排缓存、测速与下载：命中时直接读取本地存储，未命中时先测速再流式下载，
// 成功后尽力写回缓存；同时提供按清单批量预热的能力。
//
// 单个 URL 的生命周期：
//
//	NotRequested -> CheckingCache -> CacheHit -> Done
//	                              -> CacheMiss -> Downloading -> Persisting -> Done
//	                                                          -> FallbackCheck -> Done | Failed
package modelcache
