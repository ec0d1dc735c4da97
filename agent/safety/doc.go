// Copyright 2026 AgentCouncil Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

/*
Package safety gates externally-consequential actions derived from a
consensus decision.

Guard.Check runs its checks in a fixed order and stops at the first failure:

 1. lock: only one action per resource may be in flight.
 2. startup_protection: right after start, an open position is never
    auto-reversed without an explicit override.
 3. daily_loss: no new risk once today's realized loss reaches the limit.
 4. cooldown: after N consecutive losing trades, wait before adding risk.
 5. parameters / liquidation: leverage, size, stop-loss and take-profit must
    be within bounds, and the stop must trigger before liquidation with a
    safety margin.

Prices and amounts are shopspring/decimal values. A rejected action releases
its resource lock immediately; an allowed one holds it until the caller
invokes the returned release function.
*/
package safety
