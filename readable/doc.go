package readable

/* Reading Rules

r.Read(n) 从缓冲取出最多n个字节.

1. n > 0 时, 只有缓冲中存够n个字节才会返回数据, 否则返回nil并记下
   一次readable欠账, 数据到齐后以readable事件通知.
2. n < 0 表示不限定, 返回当前缓冲的全部数据; 缓冲为空且未结束时返回nil.
3. n == 0 返回nil, 但仍可能触发一次对Source的预取.
4. 流结束后, n > 剩余字节数时返回全部剩余数据 (仍然 <= n).
5. 返回nil且Source已EOF且缓冲已排空时, end事件在下一轮派发, 且至多一次.
6. Source的同步回调不会触发readable事件: 调用方就在Read内部,
   会直接观察到新数据; 异步回调才需要readable来通知.

*/
